package cloudflare

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"nourish_backend/pkg/apperr"
)

// objectAPI is the part of the S3 client the audio store uses.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type R2Config struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
}

func newS3Client(ctx context.Context, cfg R2Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
		o.UsePathStyle = true
		o.Region = "auto"
	})

	return client, nil
}

// Clip is one stored audio meditation.
type Clip struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Voice     string    `json:"voice"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// AudioStore keeps generated audio in an R2 bucket under
// users/{user}/audio/{voice}/{unixnano}-{uuid}.mp3.
type AudioStore struct {
	api       objectAPI
	bucket    string
	publicURL string
	now       func() time.Time
}

func NewAudioStore(ctx context.Context, cfg R2Config) (*AudioStore, error) {
	if cfg.Bucket == "" || cfg.AccountID == "" {
		return nil, fmt.Errorf("r2 bucket and account id are required")
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newAudioStore(client, cfg.Bucket, cfg.PublicURL), nil
}

func newAudioStore(api objectAPI, bucket, publicURL string) *AudioStore {
	return &AudioStore{
		api:       api,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

func userPrefix(userID string) string {
	return path.Join("users", slug.Make(userID), "audio") + "/"
}

// Put uploads audio and returns the stored clip.
func (s *AudioStore) Put(ctx context.Context, userID, voice string, audio []byte, contentType string) (Clip, error) {
	safeVoice := slug.Make(voice)
	if safeVoice == "" {
		safeVoice = "default"
	}
	now := s.now()
	uniqueFilename := fmt.Sprintf("%d-%s.mp3", now.UnixNano(), uuid.New().String())
	objectKey := userPrefix(userID) + path.Join(safeVoice, uniqueFilename)

	if contentType == "" {
		contentType = "audio/mpeg"
	}
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(audio),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return Clip{}, fmt.Errorf("could not upload audio to R2: %v: %w", err, apperr.ErrUpstream)
	}

	return Clip{
		Key:       objectKey,
		URL:       s.urlFor(objectKey),
		Voice:     safeVoice,
		Size:      int64(len(audio)),
		CreatedAt: now,
	}, nil
}

// List returns the user's clips, newest first.
func (s *AudioStore) List(ctx context.Context, userID string) ([]Clip, error) {
	prefix := userPrefix(userID)
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	clips := []Clip{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not list audio in R2: %v: %w", err, apperr.ErrUpstream)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			clip := Clip{
				Key:   key,
				URL:   s.urlFor(key),
				Voice: voiceFromKey(prefix, key),
				Size:  aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				clip.CreatedAt = *obj.LastModified
			}
			clips = append(clips, clip)
		}
	}

	sort.SliceStable(clips, func(i, j int) bool {
		if clips[i].CreatedAt.Equal(clips[j].CreatedAt) {
			return clips[i].Key > clips[j].Key
		}
		return clips[i].CreatedAt.After(clips[j].CreatedAt)
	})
	return clips, nil
}

func (s *AudioStore) urlFor(objectKey string) string {
	return s.publicURL + "/" + objectKey
}

func voiceFromKey(prefix, key string) string {
	rest := strings.TrimPrefix(key, prefix)
	if i := strings.Index(rest, "/"); i > 0 {
		return rest[:i]
	}
	return ""
}
