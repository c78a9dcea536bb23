package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// reconstructRequest mirrors the payload posted by the sentinel model client.
type reconstructRequest struct {
	Vectors [][]float64 `json:"vectors"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Every vector is reconstructed as the column mean of the batch, so
	// outliers come back with large errors.
	mux.HandleFunc("/v1/reconstruct", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req reconstructRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
			return
		}
		reconstructions, ok := columnMeans(req.Vectors)
		if !ok {
			http.Error(w, "vectors must share one width", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"reconstructions": reconstructions})
	})

	logger := log.New(log.Writer(), "model-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func columnMeans(vectors [][]float64) ([][]float64, bool) {
	out := make([][]float64, len(vectors))
	if len(vectors) == 0 {
		return out, true
	}
	width := len(vectors[0])
	mean := make([]float64, width)
	for _, v := range vectors {
		if len(v) != width {
			return nil, false
		}
		for i, x := range v {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vectors))
	}
	for i := range out {
		out[i] = append([]float64(nil), mean...)
	}
	return out, true
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
