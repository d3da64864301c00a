package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/dotpanel/dotpanel/internal/framing"
	"github.com/dotpanel/dotpanel/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	IncFrameDecoded()
	IncFramingError(framing.ErrOverflow)
	IncFramingError(errors.New("garbled"))
	IncProtocolError()
	IncCommandApplied("commit_render", "transport")
	IncFault("out_of_range")
	SetTransportUp(true)
	SetTransportUp(false)
	IncTransportDropped()
	SetSessionsActive(3)
	IncSessionOverflow()
	IncBroadcast("delta")
	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
}
