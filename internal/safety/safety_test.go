package safety

import (
	"sync"
	"testing"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
)

func TestGoRecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	Go(logging.NewNop(), "test-op", func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait() // reaching here means the panic did not crash the test binary
}

func TestGoRunsNormally(t *testing.T) {
	done := make(chan struct{})
	Go(logging.NewNop(), "test-op", func() {
		close(done)
	})
	<-done
}
