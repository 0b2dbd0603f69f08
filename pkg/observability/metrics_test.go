package observability

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	t.Run("NewMetrics", func(t *testing.T) {
		if m == nil {
			t.Fatal("NewMetrics returned nil")
		}
		if m.RequestsTotal == nil {
			t.Error("RequestsTotal not initialized")
		}
		if m.RequestDuration == nil {
			t.Error("RequestDuration not initialized")
		}
		if m.RunsTotal == nil {
			t.Error("RunsTotal not initialized")
		}
		if m.SVDFallbackTotal == nil {
			t.Error("SVDFallbackTotal not initialized")
		}
	})

	t.Run("RecordRequest", func(t *testing.T) {
		duration := 100 * time.Millisecond
		m.RecordRequest("CreateJob", "success", duration)
		m.RecordRequest("GetJob", "error", 50*time.Millisecond)

		methods := []string{"CreateJob", "GetJob", "ListJobs", "Health"}
		statuses := []string{"success", "error", "timeout"}
		for _, method := range methods {
			for _, status := range statuses {
				m.RecordRequest(method, status, duration)
			}
		}
	})

	t.Run("RecordRequestError", func(t *testing.T) {
		m.RecordRequestError("CreateJob", "validation_error")
		m.RecordRequestError("GetJob", "not_found")
		m.RecordRequestError("CreateJob", "unauthorized")
	})

	t.Run("RecordRun", func(t *testing.T) {
		m.RecordRun(500*time.Millisecond, 1000, 200, 5)
		m.RecordRun(5*time.Second, 50000, 10000, 0)
	})

	t.Run("RecordRunFailure", func(t *testing.T) {
		m.RecordRunFailure("InvalidInput")
		m.RecordRunFailure("NumericFailure")
		m.RecordRunFailure("ResourceExhaustion")
		m.RecordRunFailure("Cancelled")
	})

	t.Run("RecordJobLifecycle", func(t *testing.T) {
		m.RecordJobAccepted()
		m.RecordJobAccepted()
		m.RecordJobFinished()
		m.RecordJobRejected()
	})

	t.Run("UpdateSystemMetrics", func(t *testing.T) {
		m.UpdateGoroutineCount(100)
		m.UpdateMemoryUsage(1024 * 1024 * 512)
		m.UpdateEstimatedRunBytes(1024 * 1024 * 1024)

		for i := 0; i < 10; i++ {
			m.UpdateGoroutineCount(100 + i*10)
			m.UpdateMemoryUsage(uint64(1024 * 1024 * (500 + i*100)))
		}
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	m := NewMetrics()
	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 10; j++ {
				m.RecordRun(time.Millisecond, 10, 2, 0)
				m.RecordJobAccepted()
				m.RecordJobFinished()
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
