package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_import_items_total",
		Help: "Import line items by the status they were moved to.",
	}, []string{"status"})

	importJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_import_jobs_total",
		Help: "Import jobs by lifecycle status.",
	}, []string{"status"})

	identityProvisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_identity_provision_total",
		Help: "Identity provider account creations by result.",
	}, []string{"result"})

	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_webhook_events_total",
		Help: "Identity provider webhook events by event type and result.",
	}, []string{"event", "result"})
)
