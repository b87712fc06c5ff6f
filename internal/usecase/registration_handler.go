package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	pkgkafka "SignalFuse/pkg/kafka"
	"SignalFuse/pkg/logger"
)

// Registrar starts and stops address watches.
type Registrar interface {
	Track(ctx context.Context, address, correlationKey string) error
	Untrack(address string) error
}

// RegistrationHandler applies track/untrack commands from a Kafka topic.
// Commands that can never succeed are logged and acknowledged; subscribe
// failures are returned so the consumer retries them.
type RegistrationHandler struct {
	topic     string
	registrar Registrar
	metrics   domrepo.Metrics
	log       *logger.Logger
}

func NewRegistrationHandler(topic string, registrar Registrar, metrics domrepo.Metrics, log *logger.Logger) *RegistrationHandler {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RegistrationHandler{topic: topic, registrar: registrar, metrics: metrics, log: log}
}

func (h *RegistrationHandler) Topic() string { return h.topic }

func (h *RegistrationHandler) Handle(ctx context.Context, b []byte) error {
	var cmd models.RegistrationCommand
	if err := json.Unmarshal(b, &cmd); err != nil {
		h.reject(ctx, "registration_unmarshal", "registration: malformed command", err)
		return nil
	}
	cmd.Address = strings.TrimSpace(cmd.Address)

	var err error
	switch strings.ToLower(cmd.Action) {
	case models.ActionTrack:
		key := cmd.CorrelationKey
		if key == "" {
			key = cmd.Address
		}
		err = h.registrar.Track(ctx, cmd.Address, key)
	case models.ActionUntrack:
		err = h.registrar.Untrack(cmd.Address)
	default:
		h.reject(ctx, "registration_action", "registration: unknown action", errors.New(cmd.Action))
		return nil
	}

	if errors.Is(err, ErrInvalidAddress) {
		h.reject(ctx, "registration_invalid", "registration: invalid address", err)
		return nil
	}
	if err != nil {
		h.metrics.RecordError("registration_apply")
		return err
	}
	h.metrics.RecordMessageSent("registration", cmd.Action)
	h.log.Info("registration applied",
		logger.String("action", cmd.Action),
		logger.String("address", cmd.Address),
		logger.String("trace_id", pkgkafka.TraceID(ctx)))
	return nil
}

func (h *RegistrationHandler) reject(ctx context.Context, kind, msg string, err error) {
	h.metrics.RecordError(kind)
	h.log.Warn(msg, logger.Error(err), logger.String("trace_id", pkgkafka.TraceID(ctx)))
}

var _ pkgkafka.MessageHandler = (*RegistrationHandler)(nil)
