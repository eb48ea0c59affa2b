// Package archive uploads recorded utterances and their evaluation to
// S3-compatible object storage for later review.
package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/PanHorut/BP/internal/model"
)

// SampleRate is the PCM rate clients stream at: 16 kHz mono, 16-bit.
const SampleRate = 16000

// Evaluation values for command utterances.
const (
	EvaluationSkipped    = "skipped"
	EvaluationTerminated = "terminated"
)

// Utterance is one final transcript with the audio it was recognized from.
type Utterance struct {
	StudentID     model.ID  `json:"student_id"`
	ExampleID     model.ID  `json:"example_id"`
	Transcription string    `json:"transcription"`
	ExampleText   string    `json:"example_text"`
	CorrectAnswer string    `json:"correct_answer"`
	Evaluation    any       `json:"evaluation"`
	RecordedAt    time.Time `json:"recorded_at"`
	Audio         []byte    `json:"-"`
}

// ObjectName is the key prefix shared by an utterance's WAV and JSON objects.
func (u Utterance) ObjectName() string {
	return fmt.Sprintf("%d_%d_%s", u.StudentID, u.ExampleID, u.RecordedAt.UTC().Format("20060102T150405.000"))
}

type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// Store writes utterances to a single bucket.
type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Archive uploads <name>.wav and <name>.json.
func (s *Store) Archive(ctx context.Context, u Utterance) error {
	name := u.ObjectName()

	wav := EncodeWAV(u.Audio, SampleRate)
	if _, err := s.client.PutObject(ctx, s.bucket, name+".wav", bytes.NewReader(wav), int64(len(wav)), minio.PutObjectOptions{
		ContentType: "audio/wav",
	}); err != nil {
		return fmt.Errorf("upload %s.wav: %w", name, err)
	}

	meta, err := json.MarshalIndent(u, "", "    ")
	if err != nil {
		return fmt.Errorf("encode evaluation: %w", err)
	}
	if _, err := s.client.PutObject(ctx, s.bucket, name+".json", bytes.NewReader(meta), int64(len(meta)), minio.PutObjectOptions{
		ContentType: "application/json",
	}); err != nil {
		return fmt.Errorf("upload %s.json: %w", name, err)
	}
	return nil
}

// EncodeWAV wraps little-endian 16-bit mono PCM in a RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
