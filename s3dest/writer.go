// Package s3dest provides the object-store airlift.Destination. Binary
// property values are uploaded to an S3 bucket and the primary writer records
// a reference to the uploaded object in their place, so large blobs never
// land in the relational store.
package s3dest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/airlifthq/airlift"
)

// Option is a functional option type for s3dest.Writer.
type Option func(w *Writer)

// OptRegion is an Option which sets the AWS region for a Writer.
func OptRegion(region string) Option {
	return func(w *Writer) {
		w.region = region
	}
}

// OptLogger is an Option which sets the Writer's logger.
func OptLogger(log airlift.Logger) Option {
	return func(w *Writer) {
		w.log = log
	}
}

// Writer satisfies airlift.Destination by wrapping the primary writer.
// Byte-slice property values are replaced by s3:// references before the
// element is handed to the wrapped writer; everything else passes through
// untouched. Object keys are derived from the resolved element id and the
// value's digest, so re-running a job overwrites the same objects instead of
// accumulating copies.
type Writer struct {
	bucket  string
	region  string
	primary airlift.Destination

	s3  *s3.S3
	log airlift.Logger
}

// NewWriter makes a Writer uploading to the named bucket, with reference
// records going through primary.
func NewWriter(bucket string, primary airlift.Destination, opts ...Option) (*Writer, error) {
	w := &Writer{
		bucket:  bucket,
		region:  "us-east-1",
		primary: primary,
		log:     airlift.NopLogger{},
	}
	for _, opt := range opts {
		opt(w)
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(w.region)})
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	w.s3 = s3.New(sess)
	return w, nil
}

// IntegrateEntities implements airlift.Destination.
func (w *Writer) IntegrateEntities(ctx context.Context, entities []airlift.Entity, resolved map[airlift.EntityKey]uuid.UUID, updates map[uuid.UUID]airlift.UpdateType) (int64, error) {
	out := make([]airlift.Entity, 0, len(entities))
	for _, e := range entities {
		id, ok := resolved[e.Key]
		if !ok {
			return 0, errors.Errorf("no resolved id for entity key %v", e.Key)
		}
		props, err := w.overflow(ctx, e.Key.EntitySetID, id, e.Properties)
		if err != nil {
			return 0, err
		}
		out = append(out, airlift.Entity{Key: e.Key, Properties: props})
	}
	return w.primary.IntegrateEntities(ctx, out, resolved, updates)
}

// IntegrateAssociations implements airlift.Destination.
func (w *Writer) IntegrateAssociations(ctx context.Context, associations []airlift.Association, resolved map[airlift.EntityKey]uuid.UUID, updates map[uuid.UUID]airlift.UpdateType) (int64, error) {
	out := make([]airlift.Association, 0, len(associations))
	for _, a := range associations {
		id, ok := resolved[a.Key]
		if !ok {
			return 0, errors.Errorf("no resolved id for association key %v", a.Key)
		}
		props, err := w.overflow(ctx, a.Key.EntitySetID, id, a.Properties)
		if err != nil {
			return 0, err
		}
		out = append(out, airlift.Association{Key: a.Key, Src: a.Src, Dst: a.Dst, Properties: props})
	}
	return w.primary.IntegrateAssociations(ctx, out, resolved, updates)
}

// overflow uploads byte-slice values and returns a property map with each
// upload replaced by its object reference.
func (w *Writer) overflow(ctx context.Context, entitySetID, id uuid.UUID, props airlift.Properties) (airlift.Properties, error) {
	out := make(airlift.Properties, len(props))
	for propID, vs := range props {
		for _, v := range vs.Values() {
			bs, ok := v.([]byte)
			if !ok {
				out.Add(propID, v)
				continue
			}
			key := objectKey(entitySetID, id, propID, bs)
			_, err := w.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
				Bucket: aws.String(w.bucket),
				Key:    aws.String(key),
				Body:   bytes.NewReader(bs),
			})
			if err != nil {
				return nil, errors.Wrapf(err, "uploading object '%s'", key)
			}
			w.log.Debugf("uploaded %d bytes to s3://%s/%s", len(bs), w.bucket, key)
			out.Add(propID, fmt.Sprintf("s3://%s/%s", w.bucket, key))
		}
	}
	return out, nil
}

func objectKey(entitySetID, id, propID uuid.UUID, value []byte) string {
	digest := sha256.Sum256(value)
	return fmt.Sprintf("%s/%s/%s/%x", entitySetID, id, propID, digest[:8])
}
