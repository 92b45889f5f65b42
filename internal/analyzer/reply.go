package analyzer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rbright/argus/internal/session"
	"google.golang.org/protobuf/types/known/structpb"
)

type backendTimer struct {
	start float64
	end   float64
}

type backendReply struct {
	outcome session.Outcome
	timers  map[string]backendTimer
}

// decodeReply reads {decision, not_sliding_count, sliding_count, voters, timers}.
func decodeReply(resp *structpb.Struct) (backendReply, error) {
	fields := resp.GetFields()

	decision := strings.TrimSpace(fields["decision"].GetStringValue())
	if decision == "" {
		return backendReply{}, errors.New("analyzer reply missing decision")
	}

	reply := backendReply{
		outcome: session.Outcome{
			Decision:        decision,
			NotSlidingCount: count(fields["not_sliding_count"]),
			SlidingCount:    count(fields["sliding_count"]),
		},
		timers: map[string]backendTimer{},
	}

	for i, value := range fields["voters"].GetListValue().GetValues() {
		voter := value.GetStructValue()
		if voter == nil {
			return backendReply{}, fmt.Errorf("analyzer reply voter %d is not an object", i)
		}
		vf := voter.GetFields()
		reply.outcome.Voters = append(reply.outcome.Voters, session.Vote{
			Decision:        vf["decision"].GetStringValue(),
			NotSlidingCount: count(vf["not_sliding_count"]),
			SlidingCount:    count(vf["sliding_count"]),
		})
	}

	for name, value := range fields["timers"].GetStructValue().GetFields() {
		tf := value.GetStructValue().GetFields()
		start, end := tf["start"].GetNumberValue(), tf["end"].GetNumberValue()
		if math.IsNaN(start) || math.IsNaN(end) || start < 0 {
			continue
		}
		reply.timers[name] = backendTimer{start: start, end: end}
	}

	return reply, nil
}

func count(value *structpb.Value) int {
	n := value.GetNumberValue()
	if n < 0 || math.IsNaN(n) {
		return 0
	}
	return int(n)
}
