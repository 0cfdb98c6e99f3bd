package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"sync"
	"time"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/lendcore/emi-engine/internal/config"
	"github.com/lendcore/emi-engine/internal/domain"
	customError "github.com/lendcore/emi-engine/pkg/errors"
)

const (
	retryQueueSize = 256
	maxSendRetries = 3
	retryDelay     = 30 * time.Second
)

// EmailNotifier delivers notifications over SMTP. Failed sends are queued and
// retried in the background with a bounded attempt budget; callers never block
// on a retry.
type EmailNotifier struct {
	cfg    *config.Config
	logger *logrus.Logger

	retries chan retryItem
	stop    chan struct{}
	wg      sync.WaitGroup
}

type retryItem struct {
	kind      string
	recipient string
	data      map[string]string
	attempt   int
}

// NewEmailNotifier creates an SMTP notifier and starts its retry worker.
func NewEmailNotifier(cfg *config.Config, logger *logrus.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:     cfg,
		logger:  logger,
		retries: make(chan retryItem, retryQueueSize),
		stop:    make(chan struct{}),
	}

	n.wg.Add(1)
	go n.retryLoop()

	return n
}

// Close stops the retry worker. Queued retries are dropped.
func (n *EmailNotifier) Close() {
	close(n.stop)
	n.wg.Wait()
}

func (n *EmailNotifier) Send(ctx context.Context, kind, recipient string, data map[string]string) error {
	if err := n.deliver(kind, recipient, data); err != nil {
		n.enqueueRetry(retryItem{kind: kind, recipient: recipient, data: data, attempt: 1})
		return customError.WrapNotificationFailed(kind, err)
	}
	return nil
}

func (n *EmailNotifier) deliver(kind, recipient string, data map[string]string) error {
	subject, body := renderMessage(kind, data)

	e := email.NewEmail()
	e.From = n.cfg.Notifier.FromAddress
	e.To = []string{recipient}
	e.Subject = subject
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", n.cfg.Notifier.SMTPHost, n.cfg.Notifier.SMTPPort)
	auth := smtp.PlainAuth("", n.cfg.Notifier.SMTPUser, n.cfg.Notifier.SMTPPassword, n.cfg.Notifier.SMTPHost)

	if err := e.Send(addr, auth); err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"kind":      kind,
		"recipient": recipient,
	}).Info("notification sent")
	return nil
}

func (n *EmailNotifier) enqueueRetry(item retryItem) {
	select {
	case n.retries <- item:
	default:
		n.logger.WithField("kind", item.kind).Error("notification retry queue full, dropping")
	}
}

func (n *EmailNotifier) retryLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.stop:
			return
		case item := <-n.retries:
			select {
			case <-n.stop:
				return
			case <-time.After(retryDelay):
			}

			if err := n.deliver(item.kind, item.recipient, item.data); err != nil {
				if item.attempt < maxSendRetries {
					item.attempt++
					n.enqueueRetry(item)
				} else {
					n.logger.WithError(err).WithFields(logrus.Fields{
						"kind":      item.kind,
						"recipient": item.recipient,
					}).Error("notification abandoned after retries")
				}
			}
		}
	}
}

func renderMessage(kind string, data map[string]string) (subject, body string) {
	loanID := data["loan_id"]
	emi := data["emi_number"]
	amount := data["amount_due"]
	dueAt := data["due_at"]

	switch kind {
	case domain.NotifyReminderDue:
		subject = fmt.Sprintf("Payment reminder: installment %s of loan %s", emi, loanID)
		body = fmt.Sprintf(
			"Your installment of %s is due on %s.\nPlease ensure sufficient funds are available.\n",
			amount, dueAt,
		)
	case domain.NotifyFineApplied:
		subject = fmt.Sprintf("Late fee applied: installment %s of loan %s", emi, loanID)
		body = fmt.Sprintf(
			"Your installment due on %s was not received in time.\nA late fee of %s has been added; the amount now due is %s.\n",
			dueAt, data["fine_amount"], amount,
		)
	case domain.NotifyAdminAlertFirst:
		subject = fmt.Sprintf("Overdue installment: loan %s EMI %s", loanID, emi)
		body = fmt.Sprintf(
			"Installment %s of loan %s (user %s) passed its fine window unpaid.\nA fine of %s was applied at %s.\n",
			emi, loanID, data["user_id"], data["fine_amount"], data["fine_applied_at"],
		)
	case domain.NotifyAdminAlertEscalated:
		subject = fmt.Sprintf("ESCALATION: loan %s EMI %s still unpaid", loanID, emi)
		body = fmt.Sprintf(
			"Installment %s of loan %s (user %s) remains unpaid %s after the fine was applied.\nManual follow-up is required; no further automated action will be taken.\n",
			emi, loanID, data["user_id"], data["overdue_for"],
		)
	case domain.NotifyPaymentConfirmed:
		subject = fmt.Sprintf("Payment received: installment %s of loan %s", emi, loanID)
		body = fmt.Sprintf(
			"We received your payment for installment %s of loan %s.\nThank you.\n",
			emi, loanID,
		)
	default:
		subject = fmt.Sprintf("Notification for loan %s", loanID)
		body = fmt.Sprintf("Kind: %s\n", kind)
	}

	return subject, body
}
