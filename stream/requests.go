package stream

import "github.com/spooky-finn/go-marketstream-sync/domain"

const (
	Method_Subscribe   = "subscribe"
	Method_Unsubscribe = "unsubscribe"
	Method_Ping        = "ping"
)

type Request struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

func NewSubscribeRequest(sub domain.Subscription) Request {
	return Request{Method: Method_Subscribe, Params: sub.Params()}
}

func NewUnsubscribeRequest(sub domain.Subscription) Request {
	return Request{Method: Method_Unsubscribe, Params: sub.Params()}
}

func NewPingRequest() Request {
	return Request{Method: Method_Ping}
}

// ResubscribeRequests turns the registry snapshot into the requests replayed after a reconnect.
func ResubscribeRequests(registry *domain.SubscriptionRegistry) []Request {
	subs := registry.Snapshot()

	requests := make([]Request, len(subs))
	for i, sub := range subs {
		requests[i] = NewSubscribeRequest(sub)
	}

	return requests
}
