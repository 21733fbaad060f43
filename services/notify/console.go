package notifysvc

import (
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/trezcool/mahudhurio/core"
)

type consoleService struct {
	from       mail.Address
	subjPrefix string
}

var _ core.Notifier = (*consoleService)(nil)

func NewConsoleService(conf *core.Config) core.Notifier {
	return &consoleService{
		from:       conf.DefaultFromEmail(),
		subjPrefix: "[" + conf.AppName + "] ",
	}
}

func (svc consoleService) Send(notifications ...*core.Notification) {
	for _, notification := range notifications {
		go svc.deliver(notification)
	}
}

func (svc consoleService) deliver(notification *core.Notification) {
	if !notification.HasRecipients() || !notification.HasContent() {
		return
	}
	svc.print(*notification)
}

func (svc consoleService) print(notification core.Notification) {
	body := new(strings.Builder)

	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.from.String())
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", svc.subjPrefix+notification.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", svc.joinAddresses(notification.To))
	_, _ = fmt.Fprint(body, "\r\n")
	_, _ = fmt.Fprintf(body, "%s\r\n", notification.Body)

	log.Println(body.String())
}

func (svc consoleService) joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}
