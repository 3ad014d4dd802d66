package chathub

import "github.com/prometheus/client_golang/prometheus"

var (
	roomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sparetalk_rooms_active",
		Help: "Rooms currently held in memory.",
	})

	roomsWaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sparetalk_rooms_waiting",
		Help: "Rooms in the idle pool waiting for a second participant.",
	})

	matchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sparetalk_matches_total",
		Help: "Rooms that became occupied.",
	})

	// roomsClosed is labelled by why the room ended: left, grace, inactive, expired.
	roomsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sparetalk_rooms_closed_total",
		Help: "Rooms destroyed, by reason.",
	}, []string{"reason"})

	messagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sparetalk_messages_total",
		Help: "Chat messages accepted.",
	})

	sessionChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sparetalk_session_checks_total",
		Help: "Session recovery validations, by result.",
	}, []string{"result"})

	connectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sparetalk_connections_open",
		Help: "Registered websocket connections.",
	})

	framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sparetalk_frames_dropped_total",
		Help: "Outbound frames dropped because the connection was closed or its buffer full.",
	})

	persistQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sparetalk_persist_jobs_queued",
		Help: "Persistence jobs waiting in worker queues.",
	})

	persistJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sparetalk_persist_jobs_total",
		Help: "Persistence jobs run, by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		roomsActive, roomsWaiting, matchesTotal, roomsClosed, messagesTotal,
		sessionChecks, connectionsOpen, framesDropped, persistQueued, persistJobs,
	)
}
