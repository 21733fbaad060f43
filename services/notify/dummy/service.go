package dummynotify

import (
	"sync"

	"github.com/trezcool/mahudhurio/core"
)

// Service records notifications instead of delivering them. Tests inspect
// Sent to assert on what would have gone out.
type Service struct {
	mu   sync.Mutex
	Sent []core.Notification
}

var _ core.Notifier = (*Service)(nil)

func NewService() *Service {
	return &Service{Sent: make([]core.Notification, 0)}
}

func (svc *Service) Send(notifications ...*core.Notification) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, notification := range notifications {
		if notification.HasRecipients() && notification.HasContent() {
			svc.Sent = append(svc.Sent, *notification)
		}
	}
}

func (svc *Service) Reset() {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.Sent = svc.Sent[:0]
}
