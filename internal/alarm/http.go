package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	httpapi "github.com/athenasync/athenasync/internal/api/http"
	"github.com/athenasync/athenasync/pkg/types"
)

const (
	sourceHTTP = "http"

	// maxEnvelopeBytes is above the 256 KiB SNS message limit plus envelope.
	maxEnvelopeBytes = 512 << 10

	messageTypeHeader = "X-Amz-Sns-Message-Type"

	typeNotification     = "Notification"
	typeSubscriptionConf = "SubscriptionConfirmation"
	typeUnsubscribeConf  = "UnsubscribeConfirmation"
)

// snsEnvelope is the JSON document SNS posts to HTTP(S) subscribers.
type snsEnvelope struct {
	Type              string                  `json:"Type"`
	MessageID         string                  `json:"MessageId"`
	TopicArn          string                  `json:"TopicArn"`
	Subject           string                  `json:"Subject"`
	Message           string                  `json:"Message"`
	SubscribeURL      string                  `json:"SubscribeURL"`
	Timestamp         string                  `json:"Timestamp"`
	Token             string                  `json:"Token"`
	SignatureVersion  string                  `json:"SignatureVersion"`
	Signature         string                  `json:"Signature"`
	SigningCertURL    string                  `json:"SigningCertURL"`
	MessageAttributes map[string]snsAttribute `json:"MessageAttributes"`
}

type snsAttribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// HandlerOptions configures an SNSHandler.
type HandlerOptions struct {
	// SourceTopic, when set, rejects messages from any other topic.
	SourceTopic string

	// Client fetches signing certificates and visits SubscribeURLs.
	Client *http.Client

	// TrustUnsigned accepts envelopes without checking their signature.
	// Only for endpoints reachable from a trusted network.
	TrustUnsigned bool
}

// SNSHandler is an SNS HTTP(S) push endpoint feeding a Forwarder.
type SNSHandler struct {
	forwarder   *Forwarder
	sourceTopic string
	logger      *slog.Logger

	// verify is nil when unsigned envelopes are trusted.
	verify func(ctx context.Context, env snsEnvelope) error

	// confirm visits a SubscribeURL; replaced in tests.
	confirm func(ctx context.Context, subscribeURL string) error
}

// NewSNSHandler creates the endpoint. Envelopes must carry a valid SNS
// signature unless opts.TrustUnsigned is set.
func NewSNSHandler(f *Forwarder, opts HandlerOptions, logger *slog.Logger) *SNSHandler {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &SNSHandler{forwarder: f, sourceTopic: opts.SourceTopic, logger: logger}
	if !opts.TrustUnsigned {
		h.verify = NewSignatureVerifier(client).Verify
	}
	h.confirm = func(ctx context.Context, subscribeURL string) error {
		return confirmSubscription(ctx, client, subscribeURL)
	}
	return h
}

// ServeHTTP handles one SNS delivery.
func (h *SNSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := httpapi.GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		httpapi.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "failed to read body", requestID)
		return
	}
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid SNS envelope", requestID)
		return
	}
	if t := r.Header.Get(messageTypeHeader); t != "" && t != env.Type {
		httpapi.WriteError(w, http.StatusBadRequest, "message type header does not match body", requestID)
		return
	}
	if h.verify != nil {
		if err := h.verify(r.Context(), env); err != nil {
			h.logger.Warn("rejected unverified message", "request_id", requestID, "type", env.Type, "error", err)
			httpapi.WriteError(w, http.StatusForbidden, "signature verification failed", requestID)
			return
		}
	}
	if h.sourceTopic != "" && env.TopicArn != h.sourceTopic {
		h.logger.Warn("rejected message from unexpected topic", "request_id", requestID, "topic_arn", env.TopicArn)
		httpapi.WriteError(w, http.StatusForbidden, "unexpected topic", requestID)
		return
	}

	switch env.Type {
	case typeSubscriptionConf:
		if err := h.confirm(r.Context(), env.SubscribeURL); err != nil {
			h.logger.Error("subscription confirmation failed", "request_id", requestID, "topic_arn", env.TopicArn, "error", err)
			httpapi.WriteError(w, http.StatusBadGateway, "subscription confirmation failed", requestID)
			return
		}
		h.logger.Info("subscription confirmed", "topic_arn", env.TopicArn)
		w.WriteHeader(http.StatusOK)

	case typeUnsubscribeConf:
		h.logger.Info("unsubscribed", "topic_arn", env.TopicArn)
		w.WriteHeader(http.StatusOK)

	case typeNotification:
		if err := h.forwarder.Forward(r.Context(), sourceHTTP, env.alarm()); err != nil {
			httpapi.WriteError(w, http.StatusBadGateway, "publish failed", requestID)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		httpapi.WriteError(w, http.StatusBadRequest, "unsupported message type "+env.Type, requestID)
	}
}

func (e snsEnvelope) alarm() types.AlarmMessage {
	msg := types.AlarmMessage{
		ID:      e.MessageID,
		Subject: e.Subject,
		Payload: []byte(e.Message),
	}
	for k, a := range e.MessageAttributes {
		if a.Type != "String" {
			continue
		}
		if msg.Attributes == nil {
			msg.Attributes = make(map[string]string, len(e.MessageAttributes))
		}
		msg.Attributes[k] = a.Value
	}
	return msg
}

// ValidSubscribeURL reports whether raw is an https URL on an SNS endpoint.
func ValidSubscribeURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && isSNSEndpoint(u)
}

func confirmSubscription(ctx context.Context, client *http.Client, subscribeURL string) error {
	if !ValidSubscribeURL(subscribeURL) {
		return fmt.Errorf("refusing SubscribeURL %q: not an SNS endpoint", subscribeURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("confirm subscription: status %d", resp.StatusCode)
	}
	return nil
}
