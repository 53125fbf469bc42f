package transport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartystreets/assertions/should"
	"github.com/smartystreets/gunit"

	"github.com/adamancini/hold/internal/budget"
	"github.com/adamancini/hold/internal/update"
)

func TestRetryFixture(t *testing.T) {
	gunit.Run(new(RetryFixture), t)
}

type RetryFixture struct {
	*gunit.Fixture
	retry *Retry
	inner *FakeRemote
	naps  []time.Duration
}

func (this *RetryFixture) Setup() {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	this.inner = &FakeRemote{content: "0123456789"}
	this.retry = NewRetry(this.inner, 3, time.Second*2, logrus.NewEntry(logger))
	this.retry.sleep = func(ctx context.Context, d time.Duration) error {
		this.naps = append(this.naps, d)
		return nil
	}
}

func (this *RetryFixture) TestManifestPassesThrough() {
	data, err := this.retry.FetchManifest(context.Background(), "https://cargo.test/cargo.json")

	this.So(err, should.BeNil)
	this.So(string(data), should.Equal, "manifest")
	this.So(this.inner.manifestAttempts, should.Equal, 1)
	this.So(this.naps, should.BeEmpty)
}

func (this *RetryFixture) TestManifestRetriesTransientErrors() {
	this.inner.errs = []error{unavailable, unavailable, unavailable, unavailable}

	_, err := this.retry.FetchManifest(context.Background(), "https://cargo.test/cargo.json")

	this.So(err, should.Equal, unavailable)
	this.So(this.inner.manifestAttempts, should.Equal, 4)
	this.So(this.naps, should.Resemble, []time.Duration{
		time.Second * 2,
		time.Second * 2,
		time.Second * 2,
	})
}

func (this *RetryFixture) TestManifestRecoversAfterTransientError() {
	this.inner.errs = []error{unavailable}

	data, err := this.retry.FetchManifest(context.Background(), "https://cargo.test/cargo.json")

	this.So(err, should.BeNil)
	this.So(string(data), should.Equal, "manifest")
	this.So(this.inner.manifestAttempts, should.Equal, 2)
}

func (this *RetryFixture) TestManifestDoesNotRetryClientErrors() {
	this.inner.errs = []error{notFound}

	_, err := this.retry.FetchManifest(context.Background(), "https://cargo.test/cargo.json")

	this.So(err, should.Equal, notFound)
	this.So(this.inner.manifestAttempts, should.Equal, 1)
	this.So(this.naps, should.BeEmpty)
}

func (this *RetryFixture) TestCanceledContextIsNotRetried() {
	this.inner.errs = []error{unavailable}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := this.retry.FetchManifest(ctx, "https://cargo.test/cargo.json")

	this.So(err, should.Equal, unavailable)
	this.So(this.inner.manifestAttempts, should.Equal, 1)
}

func (this *RetryFixture) TestFileResumesFromPartialData() {
	this.inner.partials = []int{3}
	var progress []int64

	data, err := this.retry.FetchFile(context.Background(), "https://cargo.test/a.js", 0, int64(len(this.inner.content)), func(n int64) {
		progress = append(progress, n)
	})

	this.So(err, should.BeNil)
	this.So(string(data), should.Equal, "0123456789")
	this.So(this.inner.offsets, should.Resemble, []int64{0, 3})
	this.So(progress, should.Resemble, []int64{3, 10})
	this.So(this.naps, should.HaveLength, 1)
}

func (this *RetryFixture) TestFileStartsAtCallerOffset() {
	data, err := this.retry.FetchFile(context.Background(), "https://cargo.test/a.js", 4, int64(len(this.inner.content)), nil)

	this.So(err, should.BeNil)
	this.So(string(data), should.Equal, "456789")
	this.So(this.inner.offsets, should.Resemble, []int64{4})
}

func (this *RetryFixture) TestFileGivesUpWithEverythingReceived() {
	this.inner.partials = []int{1, 1, 1, 1}

	_, err := this.retry.FetchFile(context.Background(), "https://cargo.test/a.js", 0, int64(len(this.inner.content)), nil)

	var partial *update.PartialError
	this.So(errors.As(err, &partial), should.BeTrue)
	this.So(string(partial.Data), should.Equal, "0123")
	this.So(this.inner.offsets, should.Resemble, []int64{0, 1, 2, 3})

	var nested *update.PartialError
	this.So(errors.As(partial.Err, &nested), should.BeFalse)
}

func (this *RetryFixture) TestManifestBackoffEndsWithContext() {
	this.inner.errs = []error{unavailable, unavailable}
	this.retry.sleep = sleepContext
	this.retry.delay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()

	_, err := this.retry.FetchManifest(ctx, "https://cargo.test/cargo.json")

	this.So(errors.Is(err, context.DeadlineExceeded), should.BeTrue)
	this.So(this.inner.manifestAttempts, should.Equal, 1)
}

func (this *RetryFixture) TestFileBackoffEndsWithContextKeepingData() {
	this.inner.partials = []int{3}
	this.retry.sleep = sleepContext
	this.retry.delay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()

	_, err := this.retry.FetchFile(ctx, "https://cargo.test/a.js", 0, int64(len(this.inner.content)), nil)

	var partial *update.PartialError
	this.So(errors.As(err, &partial), should.BeTrue)
	this.So(string(partial.Data), should.Equal, "012")
	this.So(errors.Is(err, context.DeadlineExceeded), should.BeTrue)
	this.So(this.inner.offsets, should.Resemble, []int64{0})
}

func (this *RetryFixture) TestQuotaPassesThrough() {
	quota, err := this.retry.QueryQuota(context.Background())

	this.So(err, should.BeNil)
	this.So(quota, should.Resemble, budget.Quota{Total: 100, Used: 40})
}

var (
	unavailable = &update.NetworkError{URL: "https://cargo.test", Status: 503}
	notFound    = &update.NetworkError{URL: "https://cargo.test", Status: 404}
)

/////////////////////////////////////////////////////////////////////////////////

type FakeRemote struct {
	content string

	errs     []error
	partials []int

	manifestAttempts int
	offsets          []int64
}

func (this *FakeRemote) FetchManifest(ctx context.Context, url string) ([]byte, error) {
	this.manifestAttempts++
	if len(this.errs) > 0 {
		err := this.errs[0]
		this.errs = this.errs[1:]
		return nil, err
	}
	return []byte("manifest"), nil
}

func (this *FakeRemote) FetchFile(ctx context.Context, url string, offset, size int64, onProgress func(int64)) ([]byte, error) {
	this.offsets = append(this.offsets, offset)
	rest := this.content[offset:]
	if len(this.partials) > 0 {
		n := this.partials[0]
		this.partials = this.partials[1:]
		onProgress(int64(n))
		return nil, &update.PartialError{
			Data: []byte(rest[:n]),
			Err:  &update.NetworkError{URL: url, Err: io.ErrUnexpectedEOF},
		}
	}
	if onProgress != nil {
		onProgress(int64(len(rest)))
	}
	return []byte(rest), nil
}

func (this *FakeRemote) QueryQuota(ctx context.Context) (budget.Quota, error) {
	return budget.Quota{Total: 100, Used: 40}, nil
}
