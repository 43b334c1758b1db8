package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/metastore"
	"github.com/oneconcern/tablemon/pkg/model"
	"github.com/oneconcern/tablemon/pkg/remote"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodySize = 64 << 20

// Server exposes a metadata store over HTTP
type Server struct {
	remote remote.Remote
	secret []byte
	l      *zap.Logger
	router chi.Router
}

// NewServer builds the HTTP metadata endpoint of a store
func NewServer(store metastore.MetaStore, opts ...ServerOption) *Server {
	s := &Server{
		remote: remote.Direct(store),
		l:      dlogger.MustGetLogger("info"),
	}
	for _, apply := range opts {
		apply(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if len(s.secret) > 0 {
		r.Use(s.authenticate)
	}

	r.Route("/repos/{namespace}/{repository}", func(r chi.Router) {
		r.Get("/images", s.handleGetImages)
		r.Put("/images/{hash}", s.handlePutImage)
		r.Get("/tags", s.handleGetTags)
		r.Put("/tags", s.handlePutTags)
	})
	r.Get("/objects/expand/{id}", s.handleExpandObjectTree)
	r.Post("/objects/query", s.handleGetObjects)
	r.Put("/objects", s.handlePutObjects)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.l.Info("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func repository(r *http.Request) (model.Repository, error) {
	repo := model.NewRepository(chi.URLParam(r, "namespace"), chi.URLParam(r, "repository"))
	if err := repo.Validate(); err != nil {
		return repo, status.ErrInvalidArgument.Wrap(err)
	}
	return repo, nil
}

func decode(r *http.Request, target interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return status.ErrInvalidArgument.Wrapf("malformed payload: %v", err)
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	if payload == nil {
		w.WriteHeader(code)
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		s.l.Warn("cannot write response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, payload := encodeError(err)
	if code >= http.StatusInternalServerError {
		s.l.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.l.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}
	body, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// handle runs an operation against the remote, then responds with its result
func (s *Server) handle(w http.ResponseWriter, r *http.Request, op func(context.Context) (interface{}, error)) {
	res, err := op(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res == nil {
		s.respond(w, r, http.StatusNoContent, nil)
		return
	}
	s.respond(w, r, http.StatusOK, res)
}

func (s *Server) handleGetImages(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context) (interface{}, error) {
		repo, err := repository(r)
		if err != nil {
			return nil, err
		}
		images, err := s.remote.GetImages(ctx, repo)
		if images == nil {
			images = []model.Image{}
		}
		return images, err
	})
}

func (s *Server) handlePutImage(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context) (interface{}, error) {
		repo, err := repository(r)
		if err != nil {
			return nil, err
		}
		var img model.Image
		if err = decode(r, &img); err != nil {
			return nil, err
		}
		if hash := chi.URLParam(r, "hash"); img.Hash != hash {
			return nil, status.ErrInvalidArgument.Wrapf("image %s posted as %s", img.Hash, hash)
		}
		return nil, s.remote.PutImage(ctx, repo, img)
	})
}

func (s *Server) handleGetTags(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context) (interface{}, error) {
		repo, err := repository(r)
		if err != nil {
			return nil, err
		}
		tags, err := s.remote.GetTags(ctx, repo)
		if tags == nil {
			tags = []model.TagBinding{}
		}
		return tags, err
	})
}

func (s *Server) handlePutTags(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context) (interface{}, error) {
		repo, err := repository(r)
		if err != nil {
			return nil, err
		}
		var tags []model.TagBinding
		if err = decode(r, &tags); err != nil {
			return nil, err
		}
		return nil, s.remote.PutTags(ctx, repo, tags)
	})
}

func (s *Server) handleExpandObjectTree(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context) (interface{}, error) {
		id := chi.URLParam(r, "id")
		if !model.IsValidHash(id) {
			return nil, status.ErrInvalidArgument.Wrapf("invalid object ID %q", id)
		}
		return s.remote.ExpandObjectTree(ctx, id)
	})
}

func (s *Server) handleGetObjects(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context) (interface{}, error) {
		var ids []string
		if err := decode(r, &ids); err != nil {
			return nil, err
		}
		return s.remote.GetObjects(ctx, ids)
	})
}

func (s *Server) handlePutObjects(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, func(ctx context.Context) (interface{}, error) {
		var objects []remote.RemoteObject
		if err := decode(r, &objects); err != nil {
			return nil, err
		}
		return nil, s.remote.PutObjects(ctx, objects)
	})
}
