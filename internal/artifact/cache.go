// Package artifact caches the learned artifacts produced by the offline
// training pipeline: classifier weights, scalar priors and the knowledge
// base. Entries are reloaded only when a file's modification time changes.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/sentiencex/internal/nlp"
)

// Subdirectories of the artifacts root.
const (
	ModelsDir    = "models"
	CognitionDir = "cognition"
	KnowledgeDir = "knowledge"
	ActionsDir   = "actions"
)

type classifierEntry struct {
	clf   *nlp.LinearClassifier
	mtime time.Time
}

// Cache owns every learned artifact. Reads are safe from any goroutine;
// refreshes are expected from a single maintenance job.
type Cache struct {
	dir    string
	logger *zap.Logger

	mu          sync.RWMutex
	classifiers map[nlp.Task]classifierEntry
	priors      Priors
	priorsSig   map[string]time.Time
	knowledge   *Knowledge
	knowSig     map[string]time.Time
	reloads     int
}

// NewCache loads everything under dir. Missing or corrupt files degrade to
// neutral artifacts and are logged.
func NewCache(dir string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		dir:         dir,
		logger:      logger,
		classifiers: make(map[nlp.Task]classifierEntry, len(nlp.Tasks)),
		priorsSig:   make(map[string]time.Time),
		knowledge:   &Knowledge{},
	}
	c.InvalidateIfStale()
	c.reloads = 0
	return c
}

// Dir returns the artifacts root.
func (c *Cache) Dir() string { return c.dir }

// Classifier returns the cached classifier for task. An unknown task is an
// error; a missing artifact yields an empty classifier that predicts
// "unknown".
func (c *Cache) Classifier(task nlp.Task) (*nlp.LinearClassifier, error) {
	if !task.Valid() {
		return nil, fmt.Errorf("%w: %q", nlp.ErrUnknownTask, task)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.classifiers[task]; ok && e.clf != nil {
		return e.clf, nil
	}
	return nlp.NewLinearClassifier(nil), nil
}

// Priors returns the current scalar priors.
func (c *Cache) Priors() Priors {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.priors
}

// Knowledge returns the current knowledge base. The value is immutable.
func (c *Cache) Knowledge() *Knowledge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.knowledge
}

// Reloads counts how many artifact groups were reloaded since start.
func (c *Cache) Reloads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reloads
}

// Versions reports the modification time of every loaded artifact.
func (c *Cache) Versions() map[string]time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time, len(c.classifiers)+len(c.priorsSig)+1)
	for task, e := range c.classifiers {
		if !e.mtime.IsZero() {
			out[filepath.Join(ModelsDir, task.WeightsFile())] = e.mtime
		}
	}
	for name, mt := range c.priorsSig {
		if !mt.IsZero() {
			out[filepath.Join(CognitionDir, name)] = mt
		}
	}
	var newest time.Time
	for _, mt := range c.knowSig {
		if mt.After(newest) {
			newest = mt
		}
	}
	if !newest.IsZero() {
		out[KnowledgeDir] = newest
	}
	return out
}

// InvalidateIfStale reloads every artifact whose modification time changed
// and returns the names of the reloaded groups in sorted order.
func (c *Cache) InvalidateIfStale() []string {
	var changed []string

	for _, task := range nlp.Tasks {
		path := filepath.Join(c.dir, ModelsDir, task.WeightsFile())
		mt := modTime(path)
		c.mu.RLock()
		prev, seen := c.classifiers[task]
		c.mu.RUnlock()
		if seen && prev.mtime.Equal(mt) {
			continue
		}
		var clf *nlp.LinearClassifier
		if !mt.IsZero() {
			loaded, err := nlp.LoadClassifier(path)
			if err != nil {
				c.logger.Warn("classifier artifact unusable", zap.String("task", string(task)), zap.Error(err))
			} else {
				clf = loaded
			}
		} else if !seen {
			c.logger.Info("classifier artifact missing", zap.String("task", string(task)), zap.String("path", path))
		}
		c.mu.Lock()
		c.classifiers[task] = classifierEntry{clf: clf, mtime: mt}
		c.reloads++
		c.mu.Unlock()
		changed = append(changed, string(task))
	}

	sig := make(map[string]time.Time, len(priorFiles))
	for _, name := range priorFiles {
		sig[name] = modTime(filepath.Join(c.dir, CognitionDir, name))
	}
	c.mu.RLock()
	priorsStale := !sameSig(sig, c.priorsSig)
	c.mu.RUnlock()
	if priorsStale {
		priors := loadPriors(filepath.Join(c.dir, CognitionDir), c.logger)
		c.mu.Lock()
		c.priors = priors
		c.priorsSig = sig
		c.reloads++
		c.mu.Unlock()
		changed = append(changed, "priors")
	}

	ksig := knowledgeSignature(filepath.Join(c.dir, KnowledgeDir))
	c.mu.RLock()
	knowStale := !sameSig(ksig, c.knowSig)
	c.mu.RUnlock()
	if knowStale {
		k, err := LoadKnowledge(filepath.Join(c.dir, KnowledgeDir), c.logger)
		if err != nil {
			c.logger.Warn("knowledge artifact unusable", zap.Error(err))
			k = &Knowledge{}
		}
		c.mu.Lock()
		c.knowledge = k
		c.knowSig = ksig
		c.reloads++
		c.mu.Unlock()
		changed = append(changed, "knowledge")
	}

	sort.Strings(changed)
	return changed
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return time.Unix(0, 1)
		}
		return time.Time{}
	}
	return info.ModTime()
}

func sameSig(a, b map[string]time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !b[k].Equal(v) {
			return false
		}
	}
	return true
}

// knowledgeSignature maps topics.json and each actions/*.json that exists
// to its mtime, so added and removed files count as changes.
func knowledgeSignature(dir string) map[string]time.Time {
	sig := make(map[string]time.Time)
	if mt := modTime(filepath.Join(dir, topicsFile)); !mt.IsZero() {
		sig[topicsFile] = mt
	}
	matches, _ := filepath.Glob(filepath.Join(dir, ActionsDir, "*.json"))
	for _, m := range matches {
		if mt := modTime(m); !mt.IsZero() {
			sig[filepath.Join(ActionsDir, filepath.Base(m))] = mt
		}
	}
	return sig
}
