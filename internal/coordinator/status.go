package coordinator

import "time"

// ConnectionStatus describes one registered connection.
type ConnectionStatus struct {
	ConnectedAt time.Time `json:"connected_at"`
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Role        Role      `json:"role"`
	ClientType  string    `json:"client_type,omitempty"`
	Alive       bool      `json:"alive"`
}

// WorkStatus describes one queued or in-flight item.
type WorkStatus struct {
	EnqueuedAt time.Time `json:"enqueued_at"`
	Key        string    `json:"work_key"`
	Title      string    `json:"title"`
	BookKey    string    `json:"book_key,omitempty"`
	Assignee   string    `json:"assignee,omitempty"`
	Attempts   int       `json:"attempts"`
}

// Status is a point-in-time snapshot of the relay.
type Status struct {
	InFlight     *WorkStatus        `json:"in_flight,omitempty"`
	Connections  []ConnectionStatus `json:"connections"`
	Queue        []WorkStatus       `json:"queue"`
	RetryPending bool               `json:"retry_pending"`
}

// Status returns a snapshot of connections and queue state.
func (r *Relay) Status() Status {
	st := Status{
		Connections:  make([]ConnectionStatus, 0, r.registry.Len()),
		Queue:        make([]WorkStatus, 0, r.queue.Len()),
		RetryPending: r.retryPending,
	}
	for _, c := range r.registry.All() {
		st.Connections = append(st.Connections, ConnectionStatus{
			ID:          string(c.ID),
			Name:        c.Name,
			Role:        c.Role,
			ClientType:  c.ClientType,
			Alive:       c.Alive,
			ConnectedAt: c.ConnectedAt,
		})
	}
	for _, item := range r.queue.Pending() {
		st.Queue = append(st.Queue, workStatus(item, ""))
	}
	if item, assignee, ok := r.queue.InFlight(); ok {
		ws := workStatus(item, assignee)
		st.InFlight = &ws
	}
	return st
}

func workStatus(item *WorkItem, assignee ConnectionID) WorkStatus {
	return WorkStatus{
		Key:        item.Key,
		Title:      item.Title,
		BookKey:    item.BookKey,
		Assignee:   string(assignee),
		Attempts:   item.Attempts,
		EnqueuedAt: item.EnqueuedAt,
	}
}
