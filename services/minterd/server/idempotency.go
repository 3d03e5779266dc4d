package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"ovenmint/observability/logging"
	"ovenmint/services/minterd/journal"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxIdempotencyKey = 64
)

var errRequestInFlight = errors.New("request with this idempotency key is in progress")

// keyLocks serialises requests sharing an idempotency key within the process.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// withIdempotency replays the stored response when a request repeats an
// Idempotency-Key. The key is reserved in the journal before the handler runs
// so a repeated request never executes twice. Responses of 500 and above
// release the reservation and can be retried. Keys are scoped to the caller.
func (s *Server) withIdempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" || s.journal == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			writeError(w, invalid("idempotency key longer than %d bytes", maxIdempotencyKey))
			return
		}
		caller, _ := callerFrom(r.Context())
		scoped := caller.String() + ":" + key

		unlock := s.locks.lock(scoped)
		defer unlock()

		existing, reserved, err := s.journal.Reserve(r.Context(), &journal.IdempotencyKey{
			Key:    scoped,
			Caller: caller.String(),
			Method: r.Method,
			Path:   r.URL.Path,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if !reserved {
			replay(w, r, existing)
			return
		}

		// the reservation outlives a cancelled client
		ctx := context.WithoutCancel(r.Context())
		finished := false
		defer func() {
			if finished {
				return
			}
			if err := s.journal.Release(ctx, scoped); err != nil {
				s.logger.Error("release idempotency key", logging.MaskField("path", r.URL.Path), slog.Any("error", err))
			}
		}()

		recorder := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		if recorder.status >= http.StatusInternalServerError {
			return
		}
		// a committed request keeps its reservation even when storing the
		// response fails; repeats then get 409 instead of running again
		finished = true
		if err := s.journal.Complete(ctx, scoped, recorder.status, recorder.buf.String()); err != nil {
			s.logger.Error("store idempotent response", logging.MaskField("path", r.URL.Path), slog.Any("error", err))
		}
	})
}

func replay(w http.ResponseWriter, r *http.Request, record *journal.IdempotencyKey) {
	if record.Method != r.Method || record.Path != r.URL.Path {
		writeError(w, invalid("idempotency key reused for a different request"))
		return
	}
	if record.Pending() {
		writeError(w, errRequestInFlight)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write([]byte(record.Response))
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
