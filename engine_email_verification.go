package hrauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/MrEthical07/hrauth/identity"
	"github.com/MrEthical07/hrauth/jwt"
	"github.com/MrEthical07/hrauth/mail"
)

// RequestEmailVerification mails a verification link to identityID.
// Verified identities get no mail.
func (e *Engine) RequestEmailVerification(ctx context.Context, identityID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ident, err := e.lookupIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if ident.EmailVerified {
		return nil
	}

	if err := e.sendVerificationEmail(ctx, ident); err != nil {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, ident.ID, ident.TenantID, err, nil)
		return err
	}
	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, ident.ID, ident.TenantID, nil, nil)
	return nil
}

// VerifyEmail consumes a verification link token. Replaying a token for an
// already verified address succeeds.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	claims, err := e.links.Parse(token, jwt.PurposeVerifyEmail)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, "", "", ErrLinkTokenInvalid, nil)
		return fmt.Errorf("%w: %v", ErrLinkTokenInvalid, err)
	}

	ident, err := e.lookupIdentity(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metricInc(MetricEmailVerificationFailure)
			return ErrLinkTokenInvalid
		}
		return err
	}
	// A token minted before an address change must not verify the new one.
	if ident.Email != identity.NormalizeEmail(claims.Email) || ident.TenantID != claims.TenantID {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, ident.ID, ident.TenantID, ErrLinkTokenInvalid, reason("email_mismatch"))
		return ErrLinkTokenInvalid
	}
	if ident.EmailVerified {
		return nil
	}

	if err := e.dir.SetEmailVerified(ctx, ident.ID); err != nil {
		return err
	}
	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, ident.ID, ident.TenantID, nil, nil)
	return nil
}

func (e *Engine) sendVerificationEmail(ctx context.Context, ident *identity.Identity) error {
	token, _, err := e.links.Issue(jwt.PurposeVerifyEmail, ident.ID, ident.TenantID, ident.Email)
	if err != nil {
		return err
	}
	return e.sendMail(ctx, ident.Email, "Verify your email address", mail.TemplateVerifyEmail, mail.VerifyEmailData{
		Name:      ident.Username,
		Link:      linkURL(e.config.Links.VerifyEmailURL, token),
		ExpiresIn: humanDuration(e.links.TTL(jwt.PurposeVerifyEmail)),
	})
}

// sendMail renders and sends one message. With mail disabled, no sender or
// no link URL configured, the message is logged and dropped.
func (e *Engine) sendMail(ctx context.Context, to, subject, tmpl string, data any) error {
	if !e.config.Mail.Enabled || e.mailer == nil {
		e.log.Debug().Str("template", tmpl).Msg("mail disabled; message dropped")
		return nil
	}
	body, err := mail.Render(tmpl, data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Mail.SendTimeout)
	defer cancel()
	if err := e.mailer.Send(ctx, to, subject, body); err != nil {
		e.metricInc(MetricMailFailure)
		e.log.Warn().Err(err).Str("template", tmpl).Msg("mail send failed")
		return err
	}
	return nil
}

// linkURL appends token as the token query parameter. An empty base yields
// the bare token.
func linkURL(base, token string) string {
	if base == "" {
		return token
	}
	u, err := url.Parse(base)
	if err != nil {
		return token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d/(24*time.Hour)))
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
}
