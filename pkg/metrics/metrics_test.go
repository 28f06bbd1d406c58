package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordReply(t *testing.T) {
	before := testutil.ToFloat64(AIReplies.WithLabelValues(SourceFallback))
	RecordReply(SourceFallback)
	assert.Equal(t, before+1, testutil.ToFloat64(AIReplies.WithLabelValues(SourceFallback)))
}

func TestRecordUpload_OnlyCountsBytesOnSuccess(t *testing.T) {
	before := testutil.ToFloat64(UploadBytesTotal.WithLabelValues("document"))

	RecordUpload("document", "success", 100)
	RecordUpload("document", "error", 50)

	assert.Equal(t, before+100, testutil.ToFloat64(UploadBytesTotal.WithLabelValues("document")))
}

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "GET /api/orders", "200"))
	RecordRequest("GET", "GET /api/orders", "200", 0.01)
	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("GET", "GET /api/orders", "200")))
}
