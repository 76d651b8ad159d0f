// internal/transport/ws/commands.go
package ws

import (
	"encoding/json"
	"net/http"

	"github.com/NoimitLi/smart-campus-server/internal/realtime"
)

func marshalFrame(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func errFrame(code, msg string) []byte {
	return marshalFrame(realtime.ErrorFrame{Type: realtime.FrameError, Code: code, Message: msg})
}

// handleNotifyCommand исполняет команду клиента на канале notify.
// Ошибки протокола отвечаются error-кадром, соединение не закрывается.
func (h *Handler) handleNotifyCommand(r *http.Request, c *realtime.Conn, session *realtime.Session, data []byte) {
	var cmd realtime.CommandRequest
	if err := json.Unmarshal(data, &cmd); err != nil {
		session.Send(errFrame("invalid_payload", "malformed frame"))
		return
	}

	switch cmd.Command {
	case realtime.CmdReadNotification:
		if cmd.NotificationID == "" {
			session.Send(errFrame("invalid_payload", "notification_id required"))
			return
		}
		if err := h.dispatcher.MarkRead(r.Context(), cmd.NotificationID, c.UserID); err != nil {
			session.Send(errFrame("server_error", "notification was not marked"))
			return
		}
		session.Send(marshalFrame(realtime.CommandFrame{
			Type:    realtime.FrameCommand,
			Command: cmd.Command,
		}))

	case realtime.CmdNotificationList:
		list, err := h.dispatcher.Recent(r.Context(), c.UserID, cmd.Limit)
		if err != nil {
			session.Send(errFrame("server_error", "notification list unavailable"))
			return
		}
		session.Send(marshalFrame(realtime.CommandFrame{
			Type:    realtime.FrameCommand,
			Command: cmd.Command,
			Data:    list,
		}))

	case realtime.CmdMessageList:
		list, err := h.dispatcher.RecentMessages(r.Context(), c.UserID, cmd.Limit)
		if err != nil {
			session.Send(errFrame("server_error", "message list unavailable"))
			return
		}
		session.Send(marshalFrame(realtime.CommandFrame{
			Type:    realtime.FrameCommand,
			Command: cmd.Command,
			Data:    list,
		}))

	default:
		session.Send(errFrame("invalid_payload", "unknown command "+cmd.Command))
	}
}
