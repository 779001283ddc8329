// Package gridfs implements blobstore.Store on a MongoDB GridFS bucket.
package gridfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/imagestore/imagestore/internal/blobstore"
)

// Store keeps blobs in one bucket. Uploading an existing name adds a new
// revision; downloads read the newest.
type Store struct {
	db     *mongo.Database
	bucket *mongo.GridFSBucket
}

// New opens the bucket named bucket in db. An empty name selects the
// driver default ("fs").
func New(db *mongo.Database, bucket string) *Store {
	opts := options.GridFSBucket()
	if bucket != "" {
		opts.SetName(bucket)
	}
	return &Store{db: db, bucket: db.GridFSBucket(opts)}
}

type fileDoc struct {
	ID       bson.ObjectID `bson:"_id"`
	Name     string        `bson:"filename"`
	Length   int64         `bson:"length"`
	Metadata bson.M        `bson:"metadata"`
}

func (d fileDoc) file() blobstore.File {
	var md map[string]string
	if len(d.Metadata) > 0 {
		md = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			md[gatewayKey(k)] = metaString(v)
		}
	}
	return blobstore.File{ID: d.ID.Hex(), Name: d.Name, Size: d.Length, Metadata: md}
}

// Files written by Imbo store camel-cased keys and integer timestamps and
// widths. The gateway keys are lowercase strings, so both are mapped here.
var fieldNames = map[string]string{
	blobstore.MetaImageIdentifier: "imageIdentifier",
}

var numericKeys = map[string]bool{
	blobstore.MetaWidth:   true,
	blobstore.MetaAdded:   true,
	blobstore.MetaUpdated: true,
}

func fieldName(key string) string {
	if f, ok := fieldNames[key]; ok {
		return f
	}
	return key
}

func gatewayKey(field string) string {
	for k, f := range fieldNames {
		if f == field {
			return k
		}
	}
	return field
}

// fieldValue stores numeric keys as int64 when the value parses.
func fieldValue(key, value string) any {
	if numericKeys[key] {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return value
}

func metaString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func (s *Store) Upload(ctx context.Context, name string, data []byte, metadata map[string]string) error {
	opts := options.GridFSUpload().SetMetadata(metadataDoc(metadata))
	if _, err := s.bucket.UploadFromStream(ctx, name, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("gridfs: uploading %s: %w", name, err)
	}
	return nil
}

func (s *Store) DownloadByName(ctx context.Context, name string) ([]byte, error) {
	stream, err := s.bucket.OpenDownloadStreamByName(ctx, name)
	if errors.Is(err, mongo.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("gridfs: opening %s: %w", name, err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("gridfs: reading %s: %w", name, err)
	}
	return data, nil
}

func (s *Store) Find(ctx context.Context, q blobstore.Query) ([]blobstore.File, error) {
	opts := options.GridFSFind().SetSort(bson.D{{Key: "uploadDate", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.bucket.Find(ctx, findFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("gridfs: finding files: %w", err)
	}
	defer cur.Close(ctx)

	var docs []fileDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("gridfs: decoding files: %w", err)
	}
	out := make([]blobstore.File, len(docs))
	for i, d := range docs {
		out[i] = d.file()
	}
	return out, nil
}

func (s *Store) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: id %s", blobstore.ErrNotFound, id)
	}
	res, err := s.bucket.GetFilesCollection().UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}}, metadataSet(metadata))
	if err != nil {
		return fmt.Errorf("gridfs: updating metadata of %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: id %s", blobstore.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: id %s", blobstore.ErrNotFound, id)
	}
	err = s.bucket.Delete(ctx, oid)
	if errors.Is(err, mongo.ErrFileNotFound) {
		return fmt.Errorf("%w: id %s", blobstore.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("gridfs: deleting %s: %w", id, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

// findFilter anchors the prefix and matches each metadata key exactly.
func findFilter(q blobstore.Query) bson.D {
	filter := bson.D{}
	if q.Prefix != "" {
		filter = append(filter, bson.E{Key: "filename", Value: bson.Regex{Pattern: "^" + regexp.QuoteMeta(q.Prefix)}})
	}
	for _, k := range sortedKeys(q.Metadata) {
		filter = append(filter, bson.E{Key: "metadata." + fieldName(k), Value: fieldValue(k, q.Metadata[k])})
	}
	return filter
}

func metadataSet(metadata map[string]string) bson.D {
	set := bson.D{}
	for _, k := range sortedKeys(metadata) {
		set = append(set, bson.E{Key: "metadata." + fieldName(k), Value: fieldValue(k, metadata[k])})
	}
	return bson.D{{Key: "$set", Value: set}}
}

func metadataDoc(metadata map[string]string) bson.D {
	doc := bson.D{}
	for _, k := range sortedKeys(metadata) {
		doc = append(doc, bson.E{Key: fieldName(k), Value: fieldValue(k, metadata[k])})
	}
	return doc
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ blobstore.Store = (*Store)(nil)
