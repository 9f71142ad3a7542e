package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Octogonapus/BlockBenchmark/util"
)

// Spec is a baseline as stored in a document leaf.
type Spec struct {
	Target          float64 `json:"target" mapstructure:"target"`
	DeltaPercentage float64 `json:"delta_percentage" mapstructure:"delta_percentage"`
}

// Entry returns the resolved entry for this leaf. The delta is derived from the current target
// each time, it is never stored.
func (s Spec) Entry() *Entry {
	return &Entry{
		Target: s.Target,
		Delta:  math.Abs(s.Target * s.DeltaPercentage / 100),
	}
}

// Entry is a target plus an absolute, non-negative tolerance.
type Entry struct {
	Target float64 `json:"target"`
	Delta  float64 `json:"delta"`
}

func (e *Entry) Within(v float64) bool {
	return math.Abs(v-e.Target) <= e.Delta
}

// Provider resolves the baseline of one (measurement, statistic) pair. A nil entry means there is
// no baseline, which is never an error.
type Provider interface {
	Get(measurement string, statistic string) *Entry
}

// CPUBaselines is the baseline tree of one CPU model. The "model" key names the CPU; every other
// key is a measurement subtree.
type CPUBaselines map[string]any

const ModelKey = "model"

func (c CPUBaselines) Model() string {
	m, _ := c[ModelKey].(string)
	return m
}

// Document is the list of per-CPU baseline trees.
type Document []CPUBaselines

// ForModel returns the tree of the given CPU model, or nil.
func (d Document) ForModel(model string) CPUBaselines {
	for _, c := range d {
		if c.Model() == model {
			return c
		}
	}
	return nil
}

func ReadDocument(r io.Reader) (Document, error) {
	var doc Document
	err := json.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("decoding baseline document failed: %w", err)
	}
	return doc, nil
}

// ObjectGetter is the part of the S3 client used to fetch remote documents.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LoadDocument reads a baseline document from a local path or an s3://bucket/key location.
// client may be nil when location is local.
func LoadDocument(ctx context.Context, location string, client ObjectGetter) (Document, error) {
	bucket, key, isS3, err := util.ParseS3URI(location)
	if err != nil {
		return nil, err
	}

	if !isS3 {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("opening baseline document failed: %w", err)
		}
		defer f.Close()
		return ReadDocument(f)
	}

	if client == nil {
		return nil, fmt.Errorf("no S3 client to fetch %s", location)
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching baseline document failed: %w", err)
	}
	defer out.Body.Close()
	return ReadDocument(out.Body)
}
