package job

import "encoding/json"

// Event is one progress notification, already encoded for the wire.
// Name maps onto the SSE event field, Data onto its data field.
type Event struct {
	Name string
	Data string
}

type startPayload struct {
	Total int `json:"total"`
}

type progressPayload struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// DonePayload is the terminal report of a run. It closes the event
// stream and is what webhooks receive.
type DonePayload struct {
	JobID     string `json:"job_id"`
	Processed int    `json:"processed"`
	OutDir    string `json:"out_dir"`
	Errors    int    `json:"errors"`
	Cancelled bool   `json:"cancelled"`
}

func newEvent(name string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are flat structs of ints and strings; this cannot
		// fail at runtime.
		data = []byte("{}")
	}
	return Event{Name: name, Data: string(data)}
}

func startEvent(total int) Event {
	return newEvent("start", startPayload{Total: total})
}

func progressEvent(done, total int) Event {
	return newEvent("progress", progressPayload{Done: done, Total: total})
}

func doneEvent(p DonePayload) Event {
	return newEvent("done", p)
}
