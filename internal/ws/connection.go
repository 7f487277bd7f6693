package ws

import (
	"context"
	"errors"
	"sync"

	"tomodachilink/internal/models"

	"golang.org/x/time/rate"
)

// Outbound message budget per connection: sustained rate and burst.
const (
	sendRate  = rate.Limit(5)
	sendBurst = 10
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventHub interface {
	Join(userID string) chan models.ServerEvent
	Leave(userID string, ch chan models.ServerEvent)
	Dispatch(userID string, ev models.ClientEvent)
}

// Connection ties one websocket to the hub: a read pump feeds client
// events into the main loop, which is the single writer to the socket.
type Connection struct {
	ws         wsConnection
	hub        eventHub
	userID     string
	limiter    *rate.Limiter
	fromClient chan models.ClientEvent
	fromServer chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub eventHub,
	ws wsConnection,
	userID string,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		userID:     userID,
		limiter:    rate.NewLimiter(sendRate, sendBurst),
		fromClient: make(chan models.ClientEvent),
		fromServer: hub.Join(userID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.userID, c.fromServer)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			if err := c.processClientEvent(ev); err != nil {
				return err
			}
		case ev, ok := <-c.fromServer:
			if !ok {
				// Hub dropped us (a newer connection took over).
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientEvent(ev models.ClientEvent) error {
	switch ev.Type {
	case models.ClientEventAddUser:
		// Presence was registered by Join; nothing more to do.
	case models.ClientEventSend:
		if !c.limiter.Allow() {
			// Flood control: drop the message.
			return nil
		}
		c.hub.Dispatch(c.userID, ev)
	case models.ClientEventTyping, models.ClientEventMarkRead:
		c.hub.Dispatch(c.userID, ev)
	}

	return nil
}
