package alarm

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// maxCertBytes bounds a downloaded signing certificate.
const maxCertBytes = 64 << 10

// ErrInvalidSignature is returned when an SNS envelope fails verification.
var ErrInvalidSignature = errors.New("invalid SNS message signature")

// SignatureVerifier checks SNS message signatures against the signing
// certificate named in the envelope. Certificates are fetched once per URL.
type SignatureVerifier struct {
	client *http.Client
	now    func() time.Time

	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

// NewSignatureVerifier creates a verifier fetching certificates with client.
func NewSignatureVerifier(client *http.Client) *SignatureVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SignatureVerifier{
		client: client,
		now:    time.Now,
		certs:  make(map[string]*x509.Certificate),
	}
}

// Verify returns nil when env carries a valid signature from an SNS
// signing certificate.
func (v *SignatureVerifier) Verify(ctx context.Context, env snsEnvelope) error {
	var hash crypto.Hash
	switch env.SignatureVersion {
	case "1":
		hash = crypto.SHA1
	case "2":
		hash = crypto.SHA256
	default:
		return fmt.Errorf("%w: unsupported signature version %q", ErrInvalidSignature, env.SignatureVersion)
	}
	if env.Signature == "" {
		return fmt.Errorf("%w: message is not signed", ErrInvalidSignature)
	}
	signature, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", ErrInvalidSignature)
	}
	canonical, err := env.canonical()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	cert, err := v.certificate(ctx, env.SigningCertURL)
	if err != nil {
		return err
	}
	now := v.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("%w: signing certificate is not valid at %s", ErrInvalidSignature, now.Format(time.RFC3339))
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signing certificate does not hold an RSA key", ErrInvalidSignature)
	}

	var digest []byte
	if hash == crypto.SHA1 {
		sum := sha1.Sum([]byte(canonical))
		digest = sum[:]
	} else {
		sum := sha256.Sum256([]byte(canonical))
		digest = sum[:]
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, digest, signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (v *SignatureVerifier) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	if !ValidSigningCertURL(certURL) {
		return nil, fmt.Errorf("%w: refusing SigningCertURL %q", ErrInvalidSignature, certURL)
	}

	v.mu.Lock()
	cert, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok {
		return cert, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signing certificate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch signing certificate: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCertBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch signing certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: signing certificate is not PEM", ErrInvalidSignature)
	}
	cert, err = x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	v.mu.Lock()
	v.certs[certURL] = cert
	v.mu.Unlock()
	return cert, nil
}

// canonical builds the string SNS signs for the envelope type.
func (e snsEnvelope) canonical() (string, error) {
	var fields [][2]string
	switch e.Type {
	case typeNotification:
		fields = append(fields, [2]string{"Message", e.Message}, [2]string{"MessageId", e.MessageID})
		if e.Subject != "" {
			fields = append(fields, [2]string{"Subject", e.Subject})
		}
		fields = append(fields,
			[2]string{"Timestamp", e.Timestamp},
			[2]string{"TopicArn", e.TopicArn},
			[2]string{"Type", e.Type})
	case typeSubscriptionConf, typeUnsubscribeConf:
		fields = [][2]string{
			{"Message", e.Message},
			{"MessageId", e.MessageID},
			{"SubscribeURL", e.SubscribeURL},
			{"Timestamp", e.Timestamp},
			{"Token", e.Token},
			{"TopicArn", e.TopicArn},
			{"Type", e.Type},
		}
	default:
		return "", fmt.Errorf("unsupported message type %q", e.Type)
	}

	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f[0])
		b.WriteByte('\n')
		b.WriteString(f[1])
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// ValidSigningCertURL reports whether raw is an https .pem URL on an SNS endpoint.
func ValidSigningCertURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !isSNSEndpoint(u) {
		return false
	}
	return strings.HasSuffix(u.Path, ".pem")
}

func isSNSEndpoint(u *url.URL) bool {
	if u.Scheme != "https" || u.User != nil {
		return false
	}
	host := u.Hostname()
	if !strings.HasPrefix(host, "sns.") {
		return false
	}
	region, ok := strings.CutSuffix(strings.TrimPrefix(host, "sns."), ".amazonaws.com")
	if !ok {
		region, ok = strings.CutSuffix(strings.TrimPrefix(host, "sns."), ".amazonaws.com.cn")
	}
	return ok && region != "" && !strings.Contains(region, ".")
}
