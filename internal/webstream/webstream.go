// Package webstream is the realtime surface: one websocket listener,
// one goroutine pair per connection. The first frame authenticates the
// connection; afterwards children stream location updates and parents
// manage room subscriptions.
package webstream

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"github.com/pires/go-proxyproto"
	"nhooyr.io/websocket"
	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/auth"
	"safehome.dev/backend/internal/hub"
	"safehome.dev/backend/internal/ingest"
	"safehome.dev/backend/internal/link"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/store"
)

const (
	MsgLocationUpdate = "location:update"
	MsgSubscribe      = "parent:subscribe"
	MsgUnsubscribe    = "parent:unsubscribe"
)

const (
	authTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

type Config struct {
	ListenAddr    string
	ProxyProtocol bool
}

type Server struct {
	server   *http.Server
	config   *Config
	jwt      *auth.JWTService
	users    store.UserStore
	links    *link.Registry
	ingester *ingest.Service
	hub      *hub.Hub
	log      log.Logger
}

func NewServer(jwt *auth.JWTService, users store.UserStore, links *link.Registry,
	ingester *ingest.Service, h *hub.Hub, config *Config) *Server {

	s := &Server{config: config, jwt: jwt, users: users, links: links, ingester: ingester, hub: h}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "stream-server").Value()
	s.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        s,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func (s *Server) Run() {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.log.Error().Err(err).Msg("")
		panic(err)
	}
	if s.config.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	s.log.Info().Msgf("starting stream-server on : %s", s.config.ListenAddr)
	err = s.server.Serve(ln)
	if err != nil {
		s.log.Error().Err(err).Msg("")
		panic(err)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "connection teardown")

	u, err := s.authenticate(c)
	if err != nil {
		s.log.Debug().Err(err).Msg("stream auth rejected")
		c.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cl := &Client{
		srv:    s,
		c:      c,
		user:   u,
		wch:    make(chan []byte, 16),
		subs:   make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}
	cl.log = s.log
	cl.log.Context = log.NewContext(nil).Str("module", "stream-client").Str("user_id", u.Id).Value()
	cl.Run()
}

// authenticate reads the first frame, which must be the bearer token,
// and resolves it into a live account.
func (s *Server) authenticate(c *websocket.Conn) (*model.User, error) {
	readCtx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()
	_, msg, err := c.Read(readCtx)
	if err != nil {
		return nil, err
	}
	token := strings.TrimPrefix(strings.TrimSpace(string(msg)), "Bearer ")
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.UserById(readCtx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, auth.ErrInvalidToken
	}
	return u, nil
}

// clientMessage is every frame a client may send. Type selects the
// handler; Id, when present, is echoed in the reply.
type clientMessage struct {
	Id       string     `json:"id,omitempty"`
	Type     string     `json:"type"`
	ChildId  string     `json:"childId,omitempty"`
	UserId   string     `json:"userId,omitempty"`
	Lat      *float64   `json:"lat,omitempty"`
	Lng      *float64   `json:"lng,omitempty"`
	Accuracy *float64   `json:"accuracy,omitempty"`
	Speed    *float64   `json:"speed,omitempty"`
	Heading  *float64   `json:"heading,omitempty"`
	Ts       *time.Time `json:"ts,omitempty"`
}

type reply struct {
	Id    string `json:"id,omitempty"`
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Client is one authenticated connection. The read loop owns subs; the
// write loop is the only writer on the wire. Pushes that find the
// buffer full are dropped, acks are not.
type Client struct {
	srv     *Server
	c       *websocket.Conn
	user    *model.User
	wch     chan []byte
	subs    map[string]bool
	ctx     context.Context
	cancel  context.CancelFunc
	closed  uint32
	dropped uint64
	log     log.Logger
}

func (cl *Client) Run() {
	if cl.user.Role == model.RoleChild {
		cl.srv.hub.Join(cl.user.Id, cl)
		cl.subs[cl.user.Id] = true
	}
	go cl.writeloop()
	cl.readloop()
	cl.leaveAll()
	cl.cancel()
}

// leaveAll drops this connection's memberships and nothing else; a
// second connection from the same user keeps its own.
func (cl *Client) leaveAll() {
	for room := range cl.subs {
		cl.srv.hub.Leave(room, cl)
	}
}

func (cl *Client) readloop() {
	for {
		_, msg, err := cl.c.Read(cl.ctx)
		if err != nil {
			cl.closeErr(err)
			return
		}
		m := clientMessage{}
		if err := json.Unmarshal(msg, &m); err != nil {
			cl.reply(reply{Error: "malformed message"})
			continue
		}
		cl.handle(&m)
	}
}

func (cl *Client) handle(m *clientMessage) {
	var err error
	switch m.Type {
	case MsgLocationUpdate:
		err = cl.handleLocationUpdate(m)
	case MsgSubscribe:
		err = cl.handleSubscribe(m)
	case MsgUnsubscribe:
		err = cl.handleUnsubscribe(m)
	default:
		err = apperr.Validation("unknown message type %q", m.Type)
	}
	if err != nil {
		cl.reply(reply{Id: m.Id, Error: err.Error()})
		return
	}
	cl.reply(reply{Id: m.Id, Ok: true})
}

func (cl *Client) handleLocationUpdate(m *clientMessage) error {
	if cl.user.Role != model.RoleChild {
		return apperr.Unauthorized("only children stream locations")
	}
	if m.UserId != "" && m.UserId != cl.user.Id {
		return apperr.Unauthorized("cannot submit for another user")
	}
	raw := &ingest.RawPoint{
		Latitude:  m.Lat,
		Longitude: m.Lng,
		Accuracy:  m.Accuracy,
		Speed:     m.Speed,
		Heading:   m.Heading,
		Ts:        m.Ts,
	}
	_, err := cl.srv.ingester.SubmitPing(cl.ctx, cl.user.Id, raw)
	return err
}

// handleSubscribe re-checks the link against the store at subscribe
// time; the room membership that results is what revocation evicts.
func (cl *Client) handleSubscribe(m *clientMessage) error {
	if cl.user.Role != model.RoleParent {
		return apperr.Unauthorized("only parents subscribe")
	}
	if m.ChildId == "" {
		return apperr.Validation("childId is required")
	}
	ok, err := cl.srv.links.IsAccepted(cl.ctx, cl.user.Id, m.ChildId)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Unauthorized("no accepted link with this child")
	}
	// Join unconditionally: the hub may have evicted this connection
	// on a revoke while subs still records the old membership.
	cl.srv.hub.Join(m.ChildId, cl)
	cl.subs[m.ChildId] = true
	return nil
}

func (cl *Client) handleUnsubscribe(m *clientMessage) error {
	if m.ChildId == "" {
		return apperr.Validation("childId is required")
	}
	if cl.subs[m.ChildId] {
		cl.srv.hub.Leave(m.ChildId, cl)
		delete(cl.subs, m.ChildId)
	}
	return nil
}

func (cl *Client) writeloop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case d := <-cl.wch:
			wctx, cancel := context.WithTimeout(cl.ctx, writeTimeout)
			err := cl.c.Write(wctx, websocket.MessageText, d)
			cancel()
			if err != nil {
				cl.closeErr(err)
				return
			}
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(cl.ctx, writeTimeout)
			err := cl.c.Ping(wctx)
			cancel()
			if err != nil {
				cl.closeErr(err)
				return
			}
		case <-cl.ctx.Done():
			return
		}
	}
}

func (cl *Client) reply(r reply) {
	d, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case cl.wch <- d:
	case <-cl.ctx.Done():
	}
}

func (cl *Client) closeErr(err error) {
	if atomic.CompareAndSwapUint32(&cl.closed, 0, 1) {
		cl.log.Debug().Err(err).Msg("connection closed")
	}
	cl.cancel()
}

// Push implements subscriber.Subscriber. Never blocks; a full buffer
// drops the frame, a closed connection tells the room to forget us.
func (cl *Client) Push(childId string, data []byte) bool {
	if atomic.LoadUint32(&cl.closed) == 1 {
		return true
	}
	select {
	case cl.wch <- data:
	default:
		atomic.AddUint64(&cl.dropped, 1)
		cl.log.Debug().Str("room", childId).Msg("push dropped, slow consumer")
	}
	return false
}

func (cl *Client) UserId() string {
	return cl.user.Id
}
