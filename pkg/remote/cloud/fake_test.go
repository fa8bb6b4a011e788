package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/juju/errors"
)

type fakeObject struct {
	data    []byte
	class   types.StorageClass
	restore *string
	// polls left until a running restore finishes
	pending int
}

type fakeUpload struct {
	key   string
	class types.StorageClass
	parts map[int32][]byte
}

// fakeS3 simulates a single bucket in memory.
type fakeS3 struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string]*fakeObject
	uploads  map[string]*fakeUpload
	nextID   int
	aborted  []string
	restores int

	// restoreDelay is the number of HeadObject calls a restore stays in progress.
	restoreDelay int
	// failPart makes UploadPart fail for that part number.
	failPart int32
	// listPage limits the keys per ListObjectsV2 page.
	listPage int

	body *countingBody
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		bucket:       "bucket",
		objects:      map[string]*fakeObject{},
		uploads:      map[string]*fakeUpload{},
		restoreDelay: 2,
		listPage:     1000,
	}
}

var _ Client = (*fakeS3)(nil)

func (f *fakeS3) checkBucket(bucket *string) error {
	if aws.ToString(bucket) != f.bucket {
		return errors.Errorf("no such bucket %q", aws.ToString(bucket))
	}
	return nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, params *awss3.CreateMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkBucket(params.Bucket); err != nil {
		return nil, err
	}
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{key: aws.ToString(params.Key), class: params.StorageClass, parts: map[int32][]byte{}}
	return &awss3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, params *awss3.UploadPartInput, optFns ...func(*awss3.Options)) (*awss3.UploadPartOutput, error) {
	number := aws.ToInt32(params.PartNumber)
	if number == f.failPart {
		return nil, errors.New("connection reset")
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	upload, ok := f.uploads[aws.ToString(params.UploadId)]
	if !ok || upload.key != aws.ToString(params.Key) {
		return nil, errors.New("NoSuchUpload")
	}
	upload.parts[number] = data
	return &awss3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", number))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, params *awss3.CompleteMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(params.UploadId)
	upload, ok := f.uploads[id]
	if !ok {
		return nil, errors.New("NoSuchUpload")
	}

	var data []byte
	for i, part := range params.MultipartUpload.Parts {
		number := aws.ToInt32(part.PartNumber)
		if number != int32(i+1) || aws.ToString(part.ETag) != fmt.Sprintf("etag-%d", number) {
			return nil, errors.Errorf("InvalidPartOrder at %d", i)
		}
		data = append(data, upload.parts[number]...)
	}
	class := upload.class
	if class == "" {
		class = types.StorageClassStandard
	}
	f.objects[upload.key] = &fakeObject{data: data, class: class}
	delete(f.uploads, id)
	return &awss3.CompleteMultipartUploadOutput{Key: aws.String(upload.key)}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, params *awss3.AbortMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(params.UploadId))
	f.aborted = append(f.aborted, aws.ToString(params.Key))
	return &awss3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	if obj.restore != nil && strings.Contains(*obj.restore, `ongoing-request="true"`) {
		obj.pending--
		if obj.pending <= 0 {
			obj.restore = aws.String(`ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"`)
		}
	}
	out := &awss3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		Restore:       obj.restore,
	}
	// S3 leaves the header out for STANDARD objects
	if obj.class != types.StorageClassStandard {
		out.StorageClass = obj.class
	}
	return out, nil
}

func (f *fakeS3) RestoreObject(ctx context.Context, params *awss3.RestoreObjectInput, optFns ...func(*awss3.Options)) (*awss3.RestoreObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	if params.RestoreRequest == nil || aws.ToInt32(params.RestoreRequest.Days) <= 0 {
		return nil, errors.New("MalformedXML")
	}
	f.restores++
	obj.restore = aws.String(`ongoing-request="true"`)
	obj.pending = f.restoreDelay
	return &awss3.RestoreObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	if archival(obj.class) && (obj.restore == nil || !strings.Contains(*obj.restore, `ongoing-request="false"`)) {
		return nil, errors.New("InvalidObjectState")
	}
	f.body = &countingBody{r: bytes.NewReader(obj.data)}
	return &awss3.GetObjectOutput{Body: f.body}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if params.Delimiter != nil && strings.Contains(strings.TrimPrefix(key, prefix), *params.Delimiter) {
			continue
		}
		if token := aws.ToString(params.ContinuationToken); token != "" && key <= token {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > f.listPage {
		keys = keys[:f.listPage]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

func (f *fakeS3) object(key string) *fakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func (f *fakeS3) lastBody() *countingBody {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body
}

func (f *fakeS3) openUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type countingBody struct {
	r      io.Reader
	read   atomic.Int64
	closed atomic.Bool
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read.Add(int64(n))
	return n, err
}

func (b *countingBody) Close() error {
	b.closed.Store(true)
	return nil
}
