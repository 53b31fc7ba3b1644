package telemetry

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// SubjectInvocations is where invocation entries are published; the external
// analytics consumer subscribes here.
const SubjectInvocations = "telemetry.invocations"

// NATSSink publishes entries as JSON onto NATS.
type NATSSink struct {
	nc *nats.Conn
}

func NewNATS(nc *nats.Conn) *NATSSink {
	return &NATSSink{nc: nc}
}

func (s *NATSSink) Log(_ context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.nc.Publish(SubjectInvocations, body)
}

func (s *NATSSink) Close() error {
	s.nc.Close()
	return nil
}
