// Package storetest holds a conformance suite that every store.KV
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	gc "gopkg.in/check.v1"

	"github.com/agbru/primecount/internal/store"
)

// SuiteBase defines a re-usable set of KV tests that can be executed against
// any type that implements store.KV.
type SuiteBase struct {
	kv store.KV
	// Advance moves the backend clock forward so TTLs can be observed
	// without sleeping.
	Advance func(time.Duration)
}

// SetKV sets the store under test.
func (s *SuiteBase) SetKV(kv store.KV) { s.kv = kv }

func (s *SuiteBase) TestGetMissing(c *gc.C) {
	v, ok, err := s.kv.Get(context.Background(), "job:missing:total")
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, false)
	c.Assert(v, gc.Equals, "")
}

func (s *SuiteBase) TestSetGetOverwrite(c *gc.C) {
	ctx := context.Background()
	c.Assert(s.kv.Set(ctx, "job:a:progress", "0:16", 0), gc.IsNil)
	c.Assert(s.kv.Set(ctx, "job:a:progress", "3:16", 0), gc.IsNil)

	v, ok, err := s.kv.Get(ctx, "job:a:progress")
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, true)
	c.Assert(v, gc.Equals, "3:16")
}

func (s *SuiteBase) TestIncrCreatesAndCounts(c *gc.C) {
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := s.kv.Incr(ctx, "job:b:completed")
		c.Assert(err, gc.IsNil)
		c.Assert(got, gc.Equals, want)
	}
	v, _, err := s.kv.Get(ctx, "job:b:completed")
	c.Assert(err, gc.IsNil)
	c.Assert(v, gc.Equals, "3")
}

func (s *SuiteBase) TestIncrNonInteger(c *gc.C) {
	ctx := context.Background()
	c.Assert(s.kv.Set(ctx, "job:c:progress", "1:2", 0), gc.IsNil)
	_, err := s.kv.Incr(ctx, "job:c:progress")
	c.Assert(err, gc.NotNil)
}

func (s *SuiteBase) TestIncrConcurrent(c *gc.C) {
	ctx := context.Background()
	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := s.kv.Incr(ctx, "job:d:completed"); err != nil {
					c.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	v, _, err := s.kv.Get(ctx, "job:d:completed")
	c.Assert(err, gc.IsNil)
	c.Assert(v, gc.Equals, fmt.Sprint(workers*perWorker))
}

func (s *SuiteBase) TestSetNX(c *gc.C) {
	ctx := context.Background()
	ok, err := s.kv.SetNX(ctx, "job:e:chunk:0", "1", time.Hour)
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, true)

	ok, err = s.kv.SetNX(ctx, "job:e:chunk:0", "2", time.Hour)
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, false, gc.Commentf("second SetNX must not win"))

	v, _, err := s.kv.Get(ctx, "job:e:chunk:0")
	c.Assert(err, gc.IsNil)
	c.Assert(v, gc.Equals, "1")
}

func (s *SuiteBase) TestDelMultipleAndMissing(c *gc.C) {
	ctx := context.Background()
	c.Assert(s.kv.Set(ctx, "job:f:completed", "1", 0), gc.IsNil)
	c.Assert(s.kv.Set(ctx, "job:f:total", "4", 0), gc.IsNil)
	c.Assert(s.kv.Del(ctx, "job:f:completed", "job:f:total", "job:f:nope"), gc.IsNil)

	for _, k := range []string{"job:f:completed", "job:f:total"} {
		_, ok, err := s.kv.Get(ctx, k)
		c.Assert(err, gc.IsNil)
		c.Assert(ok, gc.Equals, false, gc.Commentf("key %s should be gone", k))
	}
	c.Assert(s.kv.Del(ctx), gc.IsNil)
}

func (s *SuiteBase) TestTTLExpiry(c *gc.C) {
	ctx := context.Background()
	c.Assert(s.kv.Set(ctx, "job:g:progress", "4:4", 2*time.Second), gc.IsNil)
	c.Assert(s.kv.Set(ctx, "job:g:total", "4", 0), gc.IsNil)

	s.Advance(3 * time.Second)

	_, ok, err := s.kv.Get(ctx, "job:g:progress")
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, false, gc.Commentf("progress should have expired"))
	_, ok, err = s.kv.Get(ctx, "job:g:total")
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, true, gc.Commentf("key without ttl must survive"))
}

func (s *SuiteBase) TestExpireShortensLifetime(c *gc.C) {
	ctx := context.Background()
	c.Assert(s.kv.Set(ctx, "job:h:progress", "2:2", time.Hour), gc.IsNil)
	c.Assert(s.kv.Expire(ctx, "job:h:progress", time.Second), gc.IsNil)
	c.Assert(s.kv.Expire(ctx, "job:h:missing", time.Second), gc.IsNil)

	s.Advance(2 * time.Second)

	_, ok, err := s.kv.Get(ctx, "job:h:progress")
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, false)
}

func (s *SuiteBase) TestSetNXAfterExpiry(c *gc.C) {
	ctx := context.Background()
	ok, err := s.kv.SetNX(ctx, "chord:x:failed", "1", time.Second)
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, true)

	s.Advance(2 * time.Second)

	ok, err = s.kv.SetNX(ctx, "chord:x:failed", "1", time.Second)
	c.Assert(err, gc.IsNil)
	c.Assert(ok, gc.Equals, true, gc.Commentf("expired marker must be claimable again"))
}

func (s *SuiteBase) TestSAddCountsDistinctMembers(c *gc.C) {
	ctx := context.Background()
	n, err := s.kv.SCard(ctx, "chord:s:members")
	c.Assert(err, gc.IsNil)
	c.Assert(n, gc.Equals, int64(0))

	for _, m := range []string{"0", "1", "0", "2", "1"} {
		_, err := s.kv.SAdd(ctx, "chord:s:members", m)
		c.Assert(err, gc.IsNil)
	}
	added, err := s.kv.SAdd(ctx, "chord:s:members", "2")
	c.Assert(err, gc.IsNil)
	c.Assert(added, gc.Equals, false)

	n, err = s.kv.SCard(ctx, "chord:s:members")
	c.Assert(err, gc.IsNil)
	c.Assert(n, gc.Equals, int64(3))
}

func (s *SuiteBase) TestSetExpires(c *gc.C) {
	ctx := context.Background()
	_, err := s.kv.SAdd(ctx, "chord:t:members", "0")
	c.Assert(err, gc.IsNil)
	c.Assert(s.kv.Expire(ctx, "chord:t:members", time.Second), gc.IsNil)

	s.Advance(2 * time.Second)

	n, err := s.kv.SCard(ctx, "chord:t:members")
	c.Assert(err, gc.IsNil)
	c.Assert(n, gc.Equals, int64(0))
}

func (s *SuiteBase) TestSAddOnStringFails(c *gc.C) {
	ctx := context.Background()
	c.Assert(s.kv.Set(ctx, "job:u:total", "4", 0), gc.IsNil)
	_, err := s.kv.SAdd(ctx, "job:u:total", "0")
	c.Assert(err, gc.NotNil)
}

func (s *SuiteBase) TestPing(c *gc.C) {
	c.Assert(s.kv.Ping(context.Background()), gc.IsNil)
}
