// Package providertest has an in-memory provider.Provider for tests.
package providertest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arencloud/depot/internal/provider"
	"github.com/arencloud/depot/internal/s3"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Fake keeps stacks, buckets and distributions in maps. Setting one of the
// *Err fields makes the matching call fail.
type Fake struct {
	mu sync.Mutex

	Stacks        map[string]*provider.Stack // by bucket name
	Buckets       map[string]map[string]int64
	Distributions map[string]bool

	DescribeErr    error
	DescribeErrs   map[string]error // per bucket name
	DeleteStackErr error
	DeleteCDNErr   error
	DeleteStoreErr error
	EmptyErr       error

	Calls []string
}

func New() *Fake {
	return &Fake{
		Stacks:        map[string]*provider.Stack{},
		Buckets:       map[string]map[string]int64{},
		Distributions: map[string]bool{},
	}
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

// CallsTo returns how often a method was invoked.
func (f *Fake) CallsTo(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *Fake) PutStack(bucket string, st *provider.Stack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stacks[bucket] = st
}

func (f *Fake) PutObject(bucket, key string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Buckets[bucket] == nil {
		f.Buckets[bucket] = map[string]int64{}
	}
	f.Buckets[bucket][key] = size
}

func (f *Fake) DescribeStack(_ context.Context, name, _ string) (*provider.Stack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeStack")
	if f.DescribeErr != nil {
		return nil, f.DescribeErr
	}
	if err := f.DescribeErrs[name]; err != nil {
		return nil, err
	}
	st, ok := f.Stacks[name]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (f *Fake) DeleteStack(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteStack")
	if f.DeleteStackErr != nil {
		return f.DeleteStackErr
	}
	delete(f.Stacks, name)
	return nil
}

func (f *Fake) ObjectStoreExists(_ context.Context, name, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ObjectStoreExists")
	_, ok := f.Buckets[name]
	return ok, nil
}

func (f *Fake) EmptyObjectStore(_ context.Context, name, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("EmptyObjectStore")
	if f.EmptyErr != nil {
		return 0, f.EmptyErr
	}
	objs, ok := f.Buckets[name]
	if !ok {
		return 0, nil
	}
	n := len(objs)
	f.Buckets[name] = map[string]int64{}
	return n, nil
}

func (f *Fake) DeleteObjectStore(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteObjectStore")
	if f.DeleteStoreErr != nil {
		return f.DeleteStoreErr
	}
	delete(f.Buckets, name)
	return nil
}

func (f *Fake) DeleteDistribution(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteDistribution")
	if f.DeleteCDNErr != nil {
		return f.DeleteCDNErr
	}
	delete(f.Distributions, id)
	return nil
}

func (f *Fake) ListObjects(_ context.Context, bucket, _, prefix string, recursive bool) ([]s3.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListObjects")
	objs, ok := f.Buckets[bucket]
	if !ok {
		return nil, &types.NoSuchBucket{Message: &bucket}
	}
	seen := map[string]bool{}
	var out []s3.Object
	for k, size := range objs {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if !recursive {
			if i := strings.Index(rest, "/"); i >= 0 {
				dir := prefix + rest[:i+1]
				if !seen[dir] {
					seen[dir] = true
					out = append(out, s3.Object{Key: dir, IsPrefix: true})
				}
				continue
			}
		}
		out = append(out, s3.Object{Key: k, Size: size, LastModified: time.Unix(0, 0).UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *Fake) DeleteObject(_ context.Context, bucket, _, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteObject")
	delete(f.Buckets[bucket], key)
	return nil
}

func (f *Fake) MoveObject(_ context.Context, bucket, _, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MoveObject")
	objs := f.Buckets[bucket]
	size, ok := objs[src]
	if !ok {
		return &types.NoSuchKey{Message: &src}
	}
	delete(objs, src)
	objs[dst] = size
	return nil
}

func (f *Fake) PresignUpload(_ context.Context, bucket, _, key, contentType string, ttl time.Duration) (*s3.UploadURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PresignUpload")
	return &s3.UploadURL{
		URL:       "https://" + bucket + ".example.test/" + key,
		Method:    "PUT",
		Headers:   map[string][]string{"Content-Type": {contentType}},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

var _ provider.Provider = (*Fake)(nil)
