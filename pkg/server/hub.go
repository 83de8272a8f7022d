package server

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"decayindex/internal/models"
	"decayindex/pkg/session"
)

// Request types sent by the client
const (
	TypeClick   = "click"   // pixel click on the cropped detail raster
	TypeWorld   = "world"   // click in world coordinates
	TypeExtract = "extract" // population statistics and critical height
	TypeSave    = "save"    // write the session record
	TypeState   = "state"   // report the session state
)

// Reply types sent back
const (
	TypeAccepted  = "accepted"
	TypeRejected  = "rejected"
	TypeExtracted = "extracted"
	TypeSaved     = "saved"
	TypeError     = "error"
)

// Msg is a client request.
type Msg struct {
	Type string  `json:"type"`
	X    float64 `json:"x,omitempty"`
	Y    float64 `json:"y,omitempty"`
	Lon  float64 `json:"lon,omitempty"`
	Lat  float64 `json:"lat,omitempty"`
	Path string  `json:"path,omitempty"`
}

// ClickReply describes an accepted click.
type ClickReply struct {
	Lon              float64   `json:"lon"`
	Lat              float64   `json:"lat"`
	GridX            int       `json:"grid_x"`
	GridY            int       `json:"grid_y"`
	CriticalHeightMm float64   `json:"h_crit"`
	Average          []float64 `json:"average"`
}

// SummaryReply describes an extraction.
type SummaryReply struct {
	SessionID        string    `json:"session_id"`
	HeightMm         []float64 `json:"height_mm"`
	Mean             []float64 `json:"mean"`
	Std              []float64 `json:"std"`
	CriticalHeightMm float64   `json:"h_crit"`
	Clicks           int       `json:"clicks"`
	Profiles         int       `json:"profiles"`
}

// Reply is sent for every request.
type Reply struct {
	Type    string        `json:"type"`
	State   string        `json:"state"`
	Content string        `json:"content,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Click   *ClickReply   `json:"click,omitempty"`
	Summary *SummaryReply `json:"summary,omitempty"`
}

// ExtractHook runs after every successful extraction, e.g. to store the
// result or render figures.
type ExtractHook func(ctrl *session.Controller, s *session.Summary) error

type request struct {
	msg   Msg
	reply chan Reply
}

// Hub owns the session controller and applies requests one at a time in
// arrival order.
type Hub struct {
	ctrl      *session.Controller
	requests  chan request
	onExtract ExtractHook
}

// NewHub creates a hub around a controller that is ready for clicks.
func NewHub(ctrl *session.Controller) *Hub {
	return &Hub{
		ctrl:     ctrl,
		requests: make(chan request, 10),
	}
}

// SetExtractHook registers the hook run after each extraction.
func (h *Hub) SetExtractHook(hook ExtractHook) {
	h.onExtract = hook
}

// Run processes requests until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.requests:
			req.reply <- h.handle(req.msg)
		}
	}
}

// Do sends a request to the hub and waits for its reply.
func (h *Hub) Do(ctx context.Context, msg Msg) (Reply, error) {
	req := request{msg: msg, reply: make(chan Reply, 1)}
	select {
	case h.requests <- req:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (h *Hub) handle(msg Msg) Reply {
	var reply Reply
	switch msg.Type {
	case TypeClick:
		reply = h.click(session.Event{Kind: session.PixelClick, X: msg.X, Y: msg.Y})
	case TypeWorld:
		reply = h.click(session.Event{Kind: session.WorldClick, World: models.Coord{Lon: msg.Lon, Lat: msg.Lat}})
	case TypeExtract:
		reply = h.extract()
	case TypeSave:
		reply = h.save(msg.Path)
	case TypeState:
		reply = Reply{Type: TypeState}
	default:
		reply = Reply{Type: TypeError, Content: fmt.Sprintf("no such type %q", msg.Type)}
	}
	reply.State = h.ctrl.State().String()
	return reply
}

func (h *Hub) click(ev session.Event) Reply {
	if err := h.ctrl.Submit(ev); err != nil {
		return errorReply(TypeRejected, err)
	}
	outcome, _ := h.ctrl.Step()
	if outcome.Err != nil {
		return errorReply(TypeRejected, outcome.Err)
	}
	res := outcome.Result
	return Reply{
		Type: TypeAccepted,
		Click: &ClickReply{
			Lon:              res.Sample.World.Lon,
			Lat:              res.Sample.World.Lat,
			GridX:            res.Sample.GridX,
			GridY:            res.Sample.GridY,
			CriticalHeightMm: res.CriticalHeightMm,
			Average:          res.Average,
		},
	}
}

func (h *Hub) extract() Reply {
	s, err := h.ctrl.Extract()
	if err != nil {
		return errorReply(TypeError, err)
	}
	if h.onExtract != nil {
		if err := h.onExtract(h.ctrl, s); err != nil {
			log.WithError(err).Error("extract hook failed")
			return errorReply(TypeError, err)
		}
	}
	return Reply{
		Type:    TypeExtracted,
		Content: fmt.Sprintf("h_crit = %.1f Mm", s.CriticalHeightMm),
		Summary: &SummaryReply{
			SessionID:        s.SessionID,
			HeightMm:         s.HeightMm,
			Mean:             s.Mean,
			Std:              s.Std,
			CriticalHeightMm: s.CriticalHeightMm,
			Clicks:           s.Clicks,
			Profiles:         s.Profiles,
		},
	}
}

func (h *Hub) save(path string) Reply {
	if path == "" {
		return Reply{Type: TypeError, Content: "save needs a path"}
	}
	if err := session.SaveRecord(path, h.ctrl.Record()); err != nil {
		return errorReply(TypeError, err)
	}
	return Reply{Type: TypeSaved, Content: path}
}

// errorReply reports err together with its kind so the operator can tell
// a bad click from a numerical failure.
func errorReply(typ string, err error) Reply {
	return Reply{Type: typ, Content: err.Error(), Kind: ErrorKind(err)}
}

// ErrorKind names the error category of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, models.ErrAcquisition):
		return "acquisition"
	case errors.Is(err, models.ErrGeometry):
		return "geometry"
	case errors.Is(err, models.ErrNumerical):
		return "numerical"
	case errors.Is(err, models.ErrState):
		return "state"
	default:
		return "internal"
	}
}
