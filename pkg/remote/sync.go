package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oneconcern/tablemon/pkg/core"
	"github.com/oneconcern/tablemon/pkg/core/status"
	"github.com/oneconcern/tablemon/pkg/dlogger"
	"github.com/oneconcern/tablemon/pkg/errors"
	"github.com/oneconcern/tablemon/pkg/handlers"
	"github.com/oneconcern/tablemon/pkg/metrics"
	"github.com/oneconcern/tablemon/pkg/model"
	"go.uber.org/zap"
)

// TagPolicy tells how to resolve a tag bound to different images on both ends of a sync
type TagPolicy int

const (
	// TagKeep keeps the binding at the destination
	TagKeep TagPolicy = iota

	// TagOverwrite replaces the binding at the destination
	TagOverwrite

	// TagReject fails the sync before anything is transferred
	TagReject
)

func (p TagPolicy) String() string {
	switch p {
	case TagOverwrite:
		return "overwrite"
	case TagReject:
		return "reject"
	default:
		return "keep"
	}
}

// ParseTagPolicy parses "keep", "overwrite" or "reject"
func ParseTagPolicy(s string) (TagPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return TagKeep, nil
	case "overwrite":
		return TagOverwrite, nil
	case "reject":
		return TagReject, nil
	default:
		return TagKeep, status.ErrInvalidArgument.Wrapf("unknown tag policy %q", s)
	}
}

// Report of a sync
type Report struct {
	// Images transferred, parents first
	Images []string `json:"images" yaml:"images"`

	// Objects registered at the destination
	Objects []string `json:"objects" yaml:"objects"`

	// Uploaded objects, on push
	Uploaded []string `json:"uploaded,omitempty" yaml:"uploaded,omitempty"`

	// Downloaded objects, on pull
	Downloaded []string `json:"downloaded,omitempty" yaml:"downloaded,omitempty"`

	// Tags set at the destination
	Tags []model.TagBinding `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Conflicts are tags kept at the destination despite a different binding at the source
	Conflicts []string `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

// Syncer pushes and pulls repositories
type Syncer struct {
	metrics.Enable
	m *M

	engine      *core.Engine
	policy      TagPolicy
	downloadAll bool
	l           *zap.Logger
}

// NewSyncer builds a syncer for the repositories of an engine
func NewSyncer(engine *core.Engine, opts ...Option) *Syncer {
	s := &Syncer{
		engine: engine,
		l:      dlogger.MustGetLogger("info"),
	}
	for _, apply := range opts {
		apply(s)
	}
	if s.MetricsEnabled() {
		s.m = s.EnsureMetrics("remote", &M{}).(*M)
	}
	return s
}

func (s *Syncer) usage(method string) func(error) {
	if s.m == nil {
		return func(error) {}
	}
	return s.m.Usage.UsedAll(time.Now(), method)
}

// Push sends the images of a local repository that the remote repository does not know.
//
// Objects missing on the remote are uploaded with the external handler, unless they already
// have an external location. Their locations are registered locally and remotely.
// Object metadata is registered on the remote before the images referencing them.
func (s *Syncer) Push(ctx context.Context, repo model.Repository, r Remote, remoteRepo model.Repository, handler string) (report Report, err error) {
	defer func(done func(error)) { done(err) }(s.usage("Push"))
	meta := s.engine.MetaStore()
	logger := s.l.With(zap.Stringer("repository", repo), zap.Stringer("remote", remoteRepo))

	exists, err := s.engine.Exists(ctx, repo)
	if err != nil {
		return report, err
	}
	if !exists {
		return report, status.ErrNotFound.Wrapf("repository %s", repo)
	}

	var h handlers.Handler
	if handler != "" {
		if h, err = s.engine.Handlers().Get(handler, s.engine.Cache()); err != nil {
			return report, err
		}
	}

	localImages, err := meta.GetImages(ctx, repo)
	if err != nil {
		return report, err
	}
	remoteImages, err := r.GetImages(ctx, remoteRepo)
	if err != nil {
		return report, err
	}
	localTags, err := meta.GetAllHashesTags(ctx, repo)
	if err != nil {
		return report, err
	}
	remoteTags, err := r.GetTags(ctx, remoteRepo)
	if err != nil {
		return report, err
	}
	tags, conflicts, err := s.planTags(localTags, remoteTags)
	if err != nil {
		return report, err
	}

	newImages := missingImages(localImages, remoteImages)

	var required []string
	for _, id := range referencedObjects(newImages) {
		tree, err := meta.GetRequiredObjects(ctx, id)
		if err != nil {
			return report, err
		}
		required = append(required, tree...)
	}
	required = dependencyOrder(required)

	known, err := r.GetObjects(ctx, required)
	if err != nil {
		return report, err
	}
	missing := make([]string, 0, len(required))
	for _, id := range required {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}

	metas, err := meta.GetObjectMeta(ctx, missing)
	if err != nil {
		return report, err
	}
	locations, err := meta.GetObjectLocations(ctx, missing)
	if err != nil {
		return report, err
	}

	var toUpload []string
	for _, id := range missing {
		if _, ok := metas[id]; !ok {
			return report, status.ErrIntegrityViolation.Wrapf("object %s is not registered locally", id)
		}
		if len(locations[id]) == 0 {
			toUpload = append(toUpload, id)
		}
	}

	if len(toUpload) > 0 {
		if h == nil {
			return report, status.ErrInvalidArgument.Wrapf("an external handler is required to upload %d objects", len(toUpload))
		}
		logger.Info("uploading objects", zap.String("handler", h.Name()), zap.Int("objects", len(toUpload)))
		uploaded, err := h.UploadObjects(ctx, toUpload)
		if err == nil && len(uploaded) != len(toUpload) {
			err = fmt.Errorf("expected %d locations, got %d", len(toUpload), len(uploaded))
		}
		if err != nil {
			return report, transferFailure(err)
		}

		newLocations := make([]model.ObjectLocation, len(toUpload))
		for i, id := range toUpload {
			newLocations[i] = model.ObjectLocation{ObjectID: id, Location: uploaded[i], Handler: h.Name()}
			locations[id] = append(locations[id], newLocations[i])
		}
		if err = meta.RegisterObjectLocations(ctx, newLocations); err != nil {
			return report, err
		}
		report.Uploaded = toUpload
		if s.m != nil {
			s.m.Sync.Objects.Add(len(toUpload), "upload")
		}
	}

	objects := make([]RemoteObject, len(missing))
	for i, id := range missing {
		objects[i] = RemoteObject{ObjectMeta: metas[id], Locations: locations[id]}
	}
	if err = r.PutObjects(ctx, objects); err != nil {
		return report, err
	}
	report.Objects = missing

	for _, img := range newImages {
		if err = r.PutImage(ctx, remoteRepo, img); err != nil {
			return report, err
		}
		report.Images = append(report.Images, img.Hash)
	}

	if len(tags) > 0 {
		if err = r.PutTags(ctx, remoteRepo, tags); err != nil {
			return report, err
		}
	}
	report.Tags, report.Conflicts = tags, conflicts
	s.logConflicts(logger, conflicts)

	if s.m != nil {
		s.m.Sync.Images.Add(len(report.Images), "push")
		s.m.Sync.Objects.Add(len(report.Objects), "push")
	}
	logger.Info("repository pushed",
		zap.Int("images", len(report.Images)),
		zap.Int("objects", len(report.Objects)),
		zap.Int("uploaded", len(report.Uploaded)),
		zap.Int("tags", len(report.Tags)),
	)
	return report, nil
}

// Pull fetches the images of a remote repository that the local repository does not know.
//
// The local repository is initialized when needed. The metadata and external locations of missing
// objects are registered locally before the images referencing them. Object data is downloaded
// lazily on checkout, unless the syncer is configured to download everything.
func (s *Syncer) Pull(ctx context.Context, repo model.Repository, r Remote, remoteRepo model.Repository) (report Report, err error) {
	defer func(done func(error)) { done(err) }(s.usage("Pull"))
	meta := s.engine.MetaStore()
	logger := s.l.With(zap.Stringer("repository", repo), zap.Stringer("remote", remoteRepo))

	remoteImages, err := r.GetImages(ctx, remoteRepo)
	if err != nil {
		return report, err
	}
	if len(remoteImages) == 0 {
		return report, status.ErrNotFound.Wrapf("remote repository %s", remoteRepo)
	}
	remoteTags, err := r.GetTags(ctx, remoteRepo)
	if err != nil {
		return report, err
	}

	if err = s.engine.Init(ctx, repo); err != nil {
		return report, err
	}
	localImages, err := meta.GetImages(ctx, repo)
	if err != nil {
		return report, err
	}
	localTags, err := meta.GetAllHashesTags(ctx, repo)
	if err != nil {
		return report, err
	}
	tags, conflicts, err := s.planTags(remoteTags, localTags)
	if err != nil {
		return report, err
	}

	newImages := missingImages(remoteImages, localImages)

	var required []string
	for _, id := range referencedObjects(newImages) {
		tree, err := r.ExpandObjectTree(ctx, id)
		if err != nil {
			return report, err
		}
		required = append(required, tree...)
	}
	required = dependencyOrder(required)

	local, err := meta.GetObjectMeta(ctx, required)
	if err != nil {
		return report, err
	}
	missing := make([]string, 0, len(required))
	for _, id := range required {
		if _, ok := local[id]; !ok {
			missing = append(missing, id)
		}
	}

	fetched, err := r.GetObjects(ctx, missing)
	if err != nil {
		return report, err
	}
	objects := make([]RemoteObject, 0, len(missing))
	for _, id := range missing {
		o, ok := fetched[id]
		if !ok {
			return report, status.ErrIntegrityViolation.Wrapf("object %s is not registered on the remote", id)
		}
		if len(o.Locations) == 0 {
			has, err := s.engine.Cache().Has(ctx, id)
			if err != nil {
				return report, err
			}
			if !has {
				return report, status.ErrTransferFailure.Wrapf("object %s has no external location on the remote", id)
			}
		}
		objects = append(objects, o)
	}

	if err = meta.RegisterObjects(ctx, Metas(objects)); err != nil {
		return report, err
	}
	if err = meta.RegisterObjectLocations(ctx, Locations(objects)); err != nil {
		return report, err
	}
	report.Objects = missing

	if s.downloadAll && len(required) > 0 {
		if err = s.engine.Download(ctx, required); err != nil {
			return report, transferFailure(err)
		}
		report.Downloaded = required
		if s.m != nil {
			s.m.Sync.Objects.Add(len(required), "download")
		}
	}

	for _, img := range newImages {
		if err = meta.AddImage(ctx, repo, img); err != nil {
			return report, err
		}
		report.Images = append(report.Images, img.Hash)
	}

	for _, b := range tags {
		if err = meta.SetTag(ctx, repo, b.Image, b.Tag); err != nil {
			return report, err
		}
	}
	report.Tags, report.Conflicts = tags, conflicts
	s.logConflicts(logger, conflicts)

	if s.m != nil {
		s.m.Sync.Images.Add(len(report.Images), "pull")
		s.m.Sync.Objects.Add(len(report.Objects), "pull")
	}
	logger.Info("repository pulled",
		zap.Int("images", len(report.Images)),
		zap.Int("objects", len(report.Objects)),
		zap.Int("tags", len(report.Tags)),
	)
	return report, nil
}

// Clone pulls a remote repository, then checks out the image checked out on the remote.
//
// When the remote does not tell its HEAD, the latest pulled image is checked out.
func (s *Syncer) Clone(ctx context.Context, repo model.Repository, r Remote, remoteRepo model.Repository) (Report, model.Image, error) {
	report, err := s.Pull(ctx, repo, r, remoteRepo)
	if err != nil {
		return report, model.Image{}, err
	}

	remoteTags, err := r.GetTags(ctx, remoteRepo)
	if err != nil {
		return report, model.Image{}, err
	}
	target := ""
	for _, b := range remoteTags {
		if b.Tag == model.HeadTag {
			target = b.Image
		}
	}
	if target == "" && len(report.Images) > 0 {
		target = report.Images[len(report.Images)-1]
	}
	if target == "" {
		head, err := s.engine.Head(ctx, repo)
		return report, head, err
	}

	img, err := s.engine.Checkout(ctx, repo, target)
	return report, img, err
}

// planTags resolves the tags to set at the destination of a sync. HEAD is never synced.
func (s *Syncer) planTags(source, destination []model.TagBinding) (tags []model.TagBinding, conflicts []string, err error) {
	bound := make(map[string]string, len(destination))
	for _, b := range destination {
		bound[b.Tag] = b.Image
	}

	for _, b := range source {
		if b.Tag == model.HeadTag {
			continue
		}
		current, ok := bound[b.Tag]
		switch {
		case !ok:
			tags = append(tags, b)
		case current == b.Image:
		case s.policy == TagOverwrite:
			tags = append(tags, b)
		default:
			conflicts = append(conflicts, b.Tag)
		}
	}

	if len(conflicts) > 0 && s.policy == TagReject {
		return nil, nil, status.ErrTagConflict.Wrapf("tags bound to different images: %s", strings.Join(conflicts, ", "))
	}
	return tags, conflicts, nil
}

func (s *Syncer) logConflicts(logger *zap.Logger, conflicts []string) {
	for _, tag := range conflicts {
		logger.Warn("tag bound to a different image at the destination, keeping it", zap.String("tag", tag))
	}
}

// missingImages lists the images of the source unknown to the destination, preserving order
func missingImages(source, destination []model.Image) []model.Image {
	known := make(map[string]struct{}, len(destination))
	for _, img := range destination {
		known[img.Hash] = struct{}{}
	}
	var res []model.Image
	for _, img := range source {
		if _, ok := known[img.Hash]; !ok {
			res = append(res, img)
		}
	}
	return res
}

func referencedObjects(images []model.Image) []string {
	set := make(map[string]struct{})
	for _, img := range images {
		for id := range img.Tables.ObjectIDs() {
			set[id] = struct{}{}
		}
	}
	return model.SetKeys(set)
}

// dependencyOrder removes duplicates from concatenated object trees, keeping the first occurrence,
// so that dependencies stay before the objects that require them
func dependencyOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	return res
}

func transferFailure(err error) error {
	if errors.Is(err, status.ErrTransferFailure) {
		return err
	}
	return status.ErrTransferFailure.Wrap(err)
}
