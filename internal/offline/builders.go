package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/models"
)

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

// Availability statuses accepted by QueueAvailabilityUpdate.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
	AvailabilityBusy    = "busy"
)

// JobProgressDescriptor describes a progress step on a job.
func (m *Manager) JobProgressDescriptor(jobID, step string, payload map[string]interface{}) (models.Descriptor, error) {
	if jobID == "" || step == "" {
		return models.Descriptor{}, apperrors.New(apperrors.ErrInvalid, "job id and step are required")
	}
	body := map[string]interface{}{"step": step}
	for k, v := range payload {
		if k != "step" {
			body[k] = v
		}
	}
	return m.descriptor(models.ActionJobProgress, http.MethodPost,
		"/api/driver/jobs/"+url.PathEscape(jobID)+"/progress", body,
		map[string]interface{}{"jobId": jobID, "step": step})
}

// LocationDescriptor describes a driver location report.
func (m *Manager) LocationDescriptor(lat, lng float64) (models.Descriptor, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return models.Descriptor{}, apperrors.Newf(apperrors.ErrInvalid, "coordinates out of range: %f,%f", lat, lng)
	}
	return m.descriptor(models.ActionLocationUpdate, http.MethodPost, "/api/driver/location",
		map[string]interface{}{"lat": lat, "lng": lng},
		map[string]interface{}{"lat": lat, "lng": lng})
}

// AvailabilityDescriptor describes a driver availability change.
func (m *Manager) AvailabilityDescriptor(status string) (models.Descriptor, error) {
	switch status {
	case AvailabilityOnline, AvailabilityOffline, AvailabilityBusy:
	default:
		return models.Descriptor{}, apperrors.Newf(apperrors.ErrInvalid, "unknown availability status %q", status)
	}
	return m.descriptor(models.ActionAvailabilityUpdate, http.MethodPut, "/api/driver/availability",
		map[string]interface{}{"status": status},
		map[string]interface{}{"status": status})
}

// JobClaimDescriptor describes claiming a job.
func (m *Manager) JobClaimDescriptor(jobID string) (models.Descriptor, error) {
	if jobID == "" {
		return models.Descriptor{}, apperrors.New(apperrors.ErrInvalid, "job id is required")
	}
	return m.descriptor(models.ActionJobClaim, http.MethodPost,
		"/api/driver/jobs/"+url.PathEscape(jobID)+"/claim", map[string]interface{}{},
		map[string]interface{}{"jobId": jobID})
}

// JobDeclineDescriptor describes declining a job. reason may be empty.
func (m *Manager) JobDeclineDescriptor(jobID, reason string) (models.Descriptor, error) {
	if jobID == "" {
		return models.Descriptor{}, apperrors.New(apperrors.ErrInvalid, "job id is required")
	}
	body := map[string]interface{}{}
	meta := map[string]interface{}{"jobId": jobID}
	if reason != "" {
		body["reason"] = reason
		meta["reason"] = reason
	}
	return m.descriptor(models.ActionJobDecline, http.MethodPost,
		"/api/driver/jobs/"+url.PathEscape(jobID)+"/decline", body, meta)
}

// QueueJobProgress queues a progress step for jobID.
func (m *Manager) QueueJobProgress(ctx context.Context, jobID, step string, payload map[string]interface{}) (models.UUID, error) {
	d, err := m.JobProgressDescriptor(jobID, step, payload)
	if err != nil {
		return "", err
	}
	return m.QueueAction(ctx, d)
}

// QueueLocationUpdate queues a location report.
func (m *Manager) QueueLocationUpdate(ctx context.Context, lat, lng float64) (models.UUID, error) {
	d, err := m.LocationDescriptor(lat, lng)
	if err != nil {
		return "", err
	}
	return m.QueueAction(ctx, d)
}

// QueueAvailabilityUpdate queues an availability change.
func (m *Manager) QueueAvailabilityUpdate(ctx context.Context, status string) (models.UUID, error) {
	d, err := m.AvailabilityDescriptor(status)
	if err != nil {
		return "", err
	}
	return m.QueueAction(ctx, d)
}

// QueueJobClaim queues a claim of jobID.
func (m *Manager) QueueJobClaim(ctx context.Context, jobID string) (models.UUID, error) {
	d, err := m.JobClaimDescriptor(jobID)
	if err != nil {
		return "", err
	}
	return m.QueueAction(ctx, d)
}

// QueueJobDecline queues declining jobID.
func (m *Manager) QueueJobDecline(ctx context.Context, jobID, reason string) (models.UUID, error) {
	d, err := m.JobDeclineDescriptor(jobID, reason)
	if err != nil {
		return "", err
	}
	return m.QueueAction(ctx, d)
}

func (m *Manager) descriptor(t models.ActionType, method, path string, body, meta map[string]interface{}) (models.Descriptor, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return models.Descriptor{}, apperrors.Wrap(apperrors.ErrInvalid, "encode body", err)
	}
	headers := make(map[string]string, len(jsonHeaders))
	for k, v := range jsonHeaders {
		headers[k] = v
	}
	return models.Descriptor{
		Type:       t,
		URL:        m.baseURL + path,
		Method:     method,
		Headers:    headers,
		Body:       string(encoded),
		MaxRetries: t.DefaultMaxRetries(),
		Metadata:   meta,
	}, nil
}
