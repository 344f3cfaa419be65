package observability

import "net/http"

// statusWriter remembers what a handler wrote so middleware can log and measure it afterwards.
// It also learns the authenticated uid through auth.IdentityRecorder, because the identity is
// attached to a derived request that outer middleware never sees.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
	uid    string
}

// wrapWriter reuses a statusWriter installed further out so every layer sees the same counts.
func wrapWriter(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w}
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) SetUserID(uid string) { w.uid = uid }

// Status is the written status; a handler that wrote nothing answered 200.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
