package channel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/bus"
	"github.com/stellarlinkco/birthdaybot/internal/config"
	"github.com/stellarlinkco/birthdaybot/internal/logging"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

const whatsappChannelName = "whatsapp"

const (
	whatsappSendTimeout   = 30 * time.Second
	whatsappGroupsTimeout = 30 * time.Second
)

// GroupInfo describes a joined WhatsApp group.
type GroupInfo struct {
	JID          string `json:"jid"`
	Name         string `json:"name"`
	Participants int    `json:"participants"`
}

type WhatsAppChannel struct {
	BaseChannel
	cfg            config.WhatsAppConfig
	client         *whatsmeow.Client
	storeContainer *sqlstore.Container
	cancel         context.CancelFunc
	handlerID      uint32
	log            zerolog.Logger
}

func NewWhatsApp(cfg config.WhatsAppConfig, msgBus *bus.MessageBus) (*WhatsAppChannel, error) {
	storePath := strings.TrimSpace(cfg.StorePath)
	if storePath == "" {
		storePath = filepath.Join(config.ConfigDir(), "whatsapp-store.db")
	}

	if err := os.MkdirAll(filepath.Dir(storePath), 0755); err != nil {
		return nil, fmt.Errorf("create whatsapp store dir: %w", err)
	}

	waLogger := waLog.Zerolog(logging.Named("whatsmeow"))

	storeDSN := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", filepath.ToSlash(storePath))
	container, err := sqlstore.New(context.Background(), "sqlite", storeDSN, waLogger.Sub("store"))
	if err != nil {
		return nil, fmt.Errorf("init whatsapp session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get whatsapp device: %w", err)
	}

	ch := &WhatsAppChannel{
		BaseChannel:    NewBaseChannel(whatsappChannelName, msgBus, cfg.AllowFrom),
		cfg:            cfg,
		client:         whatsmeow.NewClient(deviceStore, waLogger.Sub("client")),
		storeContainer: container,
		log:            logging.Named(whatsappChannelName),
	}
	ch.handlerID = ch.client.AddEventHandler(ch.handleEvent)

	return ch, nil
}

func (w *WhatsAppChannel) Name() string {
	return whatsappChannelName
}

func (w *WhatsAppChannel) Start(ctx context.Context) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}

	ctx, w.cancel = context.WithCancel(ctx)

	if w.client.Store.ID == nil {
		qrChan, err := w.client.GetQRChannel(ctx)
		if err != nil {
			w.cancel()
			return fmt.Errorf("get whatsapp qr channel: %w", err)
		}
		go w.consumeQR(ctx, qrChan)
	}

	if err := w.client.Connect(); err != nil {
		w.cancel()
		return fmt.Errorf("connect whatsapp: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.client.Disconnect()
	}()

	w.log.Info().Msg("connected")
	return nil
}

func (w *WhatsAppChannel) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}

	if w.client != nil {
		if w.handlerID != 0 {
			w.client.RemoveEventHandler(w.handlerID)
			w.handlerID = 0
		}
		w.client.Disconnect()
	}

	if w.storeContainer != nil {
		if err := w.storeContainer.Close(); err != nil {
			return fmt.Errorf("close whatsapp store: %w", err)
		}
		w.storeContainer = nil
	}

	w.log.Info().Msg("stopped")
	return nil
}

func (w *WhatsAppChannel) Send(msg bus.OutboundMessage) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}

	chatID := strings.TrimSpace(msg.ChatID)
	if chatID == "" {
		chatID = strings.TrimSpace(w.cfg.GroupJID)
	}
	if chatID == "" {
		return fmt.Errorf("whatsapp chat id is required")
	}

	chatJID, err := parseWhatsAppJID(chatID)
	if err != nil {
		return fmt.Errorf("parse whatsapp chat id %q: %w", chatID, err)
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), whatsappSendTimeout)
	defer cancel()

	_, err = w.client.SendMessage(ctx, chatJID, &waE2E.Message{
		Conversation: proto.String(content),
	})
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}

	return nil
}

// ListGroups returns the groups the paired account belongs to, sorted by
// name. The client must be connected.
func (w *WhatsAppChannel) ListGroups(ctx context.Context) ([]GroupInfo, error) {
	if w.client == nil {
		return nil, fmt.Errorf("whatsapp client not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, whatsappGroupsTimeout)
	defer cancel()

	groups, err := w.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list whatsapp groups: %w", err)
	}

	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		if g == nil {
			continue
		}
		out = append(out, GroupInfo{
			JID:          g.JID.String(),
			Name:         g.GroupName.Name,
			Participants: len(g.Participants),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// WaitConnected blocks until the client reports a logged-in connection.
func (w *WhatsAppChannel) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if w.client != nil && w.client.IsConnected() && w.client.IsLoggedIn() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *WhatsAppChannel) consumeQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}

			switch evt.Event {
			case whatsmeow.QRChannelEventCode:
				w.log.Info().Msg("scan the QR code below to login")
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			default:
				if evt.Error != nil {
					w.log.Warn().Err(evt.Error).Str("event", evt.Event).Msg("login event")
				} else {
					w.log.Info().Str("event", evt.Event).Msg("login event")
				}
			}
		}
	}
}

func (w *WhatsAppChannel) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Message:
		w.handleMessage(e)
	case *events.Disconnected:
		w.log.Warn().Msg("disconnected, whatsmeow will reconnect")
	case *events.LoggedOut:
		w.log.Error().Msg("logged out, delete the session store and pair again")
	}
}

func (w *WhatsAppChannel) handleMessage(evt *events.Message) {
	if evt == nil || evt.Message == nil {
		return
	}

	rawSender := evt.Info.Sender.String()
	sender := evt.Info.Sender.ToNonAD().String()
	if !evt.Info.IsFromMe && !w.IsAllowed(sender) && !w.IsAllowed(rawSender) {
		w.log.Debug().Str("sender", sender).Msg("rejected message")
		return
	}

	content := extractWhatsAppText(evt.Message)
	if content == "" {
		return
	}

	w.publish(bus.InboundMessage{
		Channel:    whatsappChannelName,
		SenderID:   sender,
		ChatID:     evt.Info.Chat.String(),
		MessageID:  string(evt.Info.ID),
		Content:    content,
		IsFromSelf: evt.Info.IsFromMe,
		Timestamp:  evt.Info.Timestamp,
		Metadata: map[string]any{
			"sender_jid": rawSender,
			"push_name":  evt.Info.PushName,
			"is_group":   evt.Info.IsGroup,
		},
	})
}

// extractWhatsAppText folds plain text and media captions into one string.
func extractWhatsAppText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	candidates := []string{
		msg.GetConversation(),
		msg.GetExtendedTextMessage().GetText(),
		msg.GetImageMessage().GetCaption(),
		msg.GetVideoMessage().GetCaption(),
		msg.GetDocumentMessage().GetCaption(),
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

func parseWhatsAppJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("empty jid")
	}

	if strings.Contains(raw, "@") {
		return types.ParseJID(raw)
	}

	user := strings.TrimPrefix(raw, "+")
	if isDigitsOnly(user) {
		return types.NewJID(user, types.DefaultUserServer), nil
	}

	return types.ParseJID(raw)
}

func isDigitsOnly(val string) bool {
	if val == "" {
		return false
	}
	for _, r := range val {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
