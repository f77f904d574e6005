package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/bus"
	"github.com/stellarlinkco/birthdaybot/internal/config"
	"github.com/stellarlinkco/birthdaybot/internal/logging"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	log      zerolog.Logger
}

func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		log:      logging.Named("channel-mgr"),
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if cfg.WhatsApp.Enabled {
		ch, err := NewWhatsApp(cfg.WhatsApp, b)
		if err != nil {
			return nil, fmt.Errorf("create whatsapp channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if cfg.Sandbox.Enabled {
		ch, err := NewSandboxChannel(cfg.Sandbox, b)
		if err != nil {
			return nil, fmt.Errorf("create sandbox channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	return m, nil
}

// Register adds ch, replacing any channel with the same name.
func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
}

func (m *ChannelManager) Get(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.log.Info().Str("channel", name).Msg("starting")
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.log.Info().Str("channel", name).Msg("stopping")
		if err := ch.Stop(); err != nil {
			m.log.Error().Err(err).Str("channel", name).Msg("stop failed")
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers text to a "<channel>:<chat id>" conversation and returns the
// transport's error.
func (m *ChannelManager) Send(_ context.Context, conversationID, text string) error {
	name, chatID, err := bus.SplitConversationID(conversationID)
	if err != nil {
		return err
	}
	ch, ok := m.channels[name]
	if !ok {
		return fmt.Errorf("channel %q not enabled", name)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty message for %s", conversationID)
	}
	return ch.Send(bus.OutboundMessage{Channel: name, ChatID: chatID, Content: text})
}

// readyWaiter is implemented by channels that connect asynchronously.
type readyWaiter interface {
	WaitConnected(ctx context.Context) error
}

// WaitReady blocks until every channel that connects asynchronously
// reports a live connection.
func (m *ChannelManager) WaitReady(ctx context.Context) error {
	for name, ch := range m.channels {
		if w, ok := ch.(readyWaiter); ok {
			if err := w.WaitConnected(ctx); err != nil {
				return fmt.Errorf("%s not connected: %w", name, err)
			}
		}
	}
	return nil
}
