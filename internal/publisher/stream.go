package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/statetable"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/vision"
	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const boundary = "frame"

// StreamServer serves the annotated frames as MJPEG, the current LED
// states as JSON and pushes every change to websocket clients.
type StreamServer struct {
	addr    string
	quality int
	table   *statetable.Table
	logger  *zap.Logger

	router *gin.Engine
	ws     *melody.Melody
	server *http.Server

	jpegMu sync.RWMutex
	latest []byte

	notifyMu sync.Mutex
	notify   map[chan struct{}]struct{}
}

// NewStreamServer builds the router. table may be nil.
func NewStreamServer(addr string, quality int, table *statetable.Table, logger *zap.Logger) *StreamServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	s := &StreamServer{
		addr:    addr,
		quality: quality,
		table:   table,
		logger:  logger,
		ws:      melody.New(),
		notify:  make(map[chan struct{}]struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/state", s.handleState)
	r.GET("/frame.jpg", s.handleFrame)
	r.GET("/stream.mjpg", s.handleStream)
	r.GET("/ws", func(c *gin.Context) {
		if err := s.ws.HandleRequest(c.Writer, c.Request); err != nil {
			s.logger.Debug("websocket request failed", zap.Error(err))
		}
	})
	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *StreamServer) Handler() http.Handler { return s.router }

// Start listens in the background.
func (s *StreamServer) Start() {
	s.server = &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		s.logger.Info("stream server listening", zap.String("addr", s.addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("stream server failed", zap.Error(err))
		}
	}()
}

// PublishFrame encodes frame and wakes the MJPEG streamers.
func (s *StreamServer) PublishFrame(frame gocv.Mat) error {
	jpeg, err := vision.EncodeJPEG(frame, s.quality)
	if err != nil {
		return err
	}
	s.jpegMu.Lock()
	s.latest = jpeg
	s.jpegMu.Unlock()

	s.notifyMu.Lock()
	for ch := range s.notify {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.notifyMu.Unlock()
	return nil
}

// PublishChange broadcasts c to every websocket client.
func (s *StreamServer) PublishChange(c Change) error {
	msg, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.ws.Broadcast(msg)
}

func (s *StreamServer) latestJPEG() []byte {
	s.jpegMu.RLock()
	defer s.jpegMu.RUnlock()
	return s.latest
}

func (s *StreamServer) handleState(c *gin.Context) {
	if s.table == nil {
		c.JSON(http.StatusOK, []statetable.Entry{})
		return
	}
	c.Header("X-Latest-Change", strconv.FormatFloat(s.table.Latest(), 'f', 3, 64))
	c.JSON(http.StatusOK, s.table.Snapshot())
}

func (s *StreamServer) handleFrame(c *gin.Context) {
	jpeg := s.latestJPEG()
	if len(jpeg) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame yet"})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", jpeg)
}

func (s *StreamServer) handleStream(c *gin.Context) {
	w := c.Writer
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")

	notify := make(chan struct{}, 1)
	s.notifyMu.Lock()
	s.notify[notify] = struct{}{}
	s.notifyMu.Unlock()
	defer func() {
		s.notifyMu.Lock()
		delete(s.notify, notify)
		s.notifyMu.Unlock()
	}()

	writePart := func(jpeg []byte) bool {
		if _, err := io.WriteString(w, "--"+boundary+"\r\n"); err != nil {
			return false
		}
		if _, err := io.WriteString(w, fmt.Sprintf("Content-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg))); err != nil {
			return false
		}
		if _, err := w.Write(jpeg); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return false
		}
		w.Flush()
		return true
	}

	if jpeg := s.latestJPEG(); len(jpeg) > 0 && !writePart(jpeg) {
		return
	}
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			if !writePart(s.latestJPEG()) {
				return
			}
		}
	}
}

// Close shuts the HTTP server and the websocket hub down.
func (s *StreamServer) Close() error {
	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = s.server.Shutdown(ctx)
	}
	if cerr := s.ws.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
