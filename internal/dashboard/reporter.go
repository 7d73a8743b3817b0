package dashboard

import (
	"encoding/json"

	"github.com/yonngwoo/weave/internal/coordinator"
	"github.com/yonngwoo/weave/internal/engine"
)

// Reporter adapts the server into the coordinator's progress callback,
// turning each callback into one broadcast message.
type Reporter struct {
	server *Server
}

// NewReporter creates a reporter broadcasting through the given server.
func NewReporter(s *Server) *Reporter {
	return &Reporter{server: s}
}

// SyncStarted implements coordinator.Reporter.
func (r *Reporter) SyncStarted(labels []string) {
	r.send(MessageTypeSyncStarted, SyncStartedData{Collections: labels})
}

// CollectionStatus implements coordinator.Reporter.
func (r *Reporter) CollectionStatus(label string, st engine.Status) {
	r.send(MessageTypeCollectionStatus, statusData(label, st))
}

// SyncCompleted implements coordinator.Reporter.
func (r *Reporter) SyncCompleted(results []coordinator.Result) {
	data := SyncCompleteData{}
	for _, res := range results {
		data.Statuses = append(data.Statuses, statusData(res.Label, res.Status))
		if res.Status.Ok() {
			data.Succeeded++
		} else {
			data.Failed++
		}
	}
	r.send(MessageTypeSyncComplete, data)
}

// AccountChanged implements coordinator.Reporter.
func (r *Reporter) AccountChanged(hasAccount bool) {
	r.send(MessageTypeAccountChanged, AccountChangedData{HasAccount: hasAccount})
}

func (r *Reporter) send(typ MessageType, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	r.server.Broadcast(Message{Type: typ, Data: raw})
}

func statusData(label string, st engine.Status) CollectionStatusData {
	data := CollectionStatusData{
		Collection: label,
		State:      st.State.String(),
	}
	if st.Reason != engine.ReasonNone {
		data.Reason = st.Reason.String()
	}
	if st.Err != nil {
		data.Error = st.Err.Error()
	}
	return data
}
