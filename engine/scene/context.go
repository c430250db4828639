package scene

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
	"github.com/spaghettifunk/reflex/engine/renderer/schedule"
	"github.com/spaghettifunk/reflex/engine/systems"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrInvalidMesh   = errors.New("invalid mesh id")
	ErrParentCycle   = errors.New("parent would create a cycle")
)

type entity struct {
	transform *Transform
	meshes    []metadata.MeshID
}

// Context holds the scene state producers read every frame and the mesh
// workers they feed. It is created and destroyed explicitly by its owner.
type Context struct {
	mu       sync.Mutex
	ids      *core.IdentifierPool[metadata.EntityID]
	entities map[metadata.EntityID]*entity
	workers  []renderer.MeshWorkerSystem

	// reused between updates, guarded by mu
	commands []metadata.MeshRenderCommand
}

func New(initialCapacity int) *Context {
	return &Context{
		ids:      core.NewIdentifierPool[metadata.EntityID](initialCapacity),
		entities: make(map[metadata.EntityID]*entity, initialCapacity),
	}
}

// AttachWorker registers every producer thread with w and makes Update feed it.
func (c *Context) AttachWorker(w renderer.MeshWorkerSystem, threads []schedule.ThreadID) error {
	for _, id := range threads {
		if err := w.AddSchedule(id); err != nil {
			return fmt.Errorf("registering producer %s: %w", id, err)
		}
	}
	c.mu.Lock()
	c.workers = append(c.workers, w)
	c.mu.Unlock()
	return nil
}

// CreateEntity adds an entity with transform t, or the identity when t is nil.
// Released IDs are reused.
func (c *Context) CreateEntity(t *Transform) metadata.EntityID {
	if t == nil {
		t = NewTransform()
	}
	e := &entity{transform: t}
	id := c.ids.Acquire(e)

	c.mu.Lock()
	c.entities[id] = e
	c.mu.Unlock()
	return id
}

// DestroyEntity removes id. Its children keep their local transform and lose
// their parent.
func (c *Context) DestroyEntity(id metadata.EntityID) error {
	c.mu.Lock()
	e, ok := c.entities[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%d: %w", id, ErrUnknownEntity)
	}
	for _, other := range c.entities {
		if other.transform.Parent == e.transform {
			other.transform.Parent = nil
		}
	}
	delete(c.entities, id)
	c.mu.Unlock()
	return c.ids.Release(id)
}

// UpdateTransform runs fn on the entity's transform while the scene is locked.
func (c *Context) UpdateTransform(id metadata.EntityID, fn func(t *Transform)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[id]
	if !ok {
		return fmt.Errorf("%d: %w", id, ErrUnknownEntity)
	}
	fn(e.transform)
	return nil
}

func (c *Context) SetParent(child, parent metadata.EntityID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.entities[child]
	if !ok {
		return fmt.Errorf("%d: %w", child, ErrUnknownEntity)
	}
	pe, ok := c.entities[parent]
	if !ok {
		return fmt.Errorf("%d: %w", parent, ErrUnknownEntity)
	}
	for p := pe.transform; p != nil; p = p.Parent {
		if p == ce.transform {
			return ErrParentCycle
		}
	}
	ce.transform.Parent = pe.transform
	return nil
}

// WorldTransform returns the entity's model to world matrix.
func (c *Context) WorldTransform(id metadata.EntityID) (mgl32.Mat4, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[id]
	if !ok {
		return mgl32.Ident4(), fmt.Errorf("%d: %w", id, ErrUnknownEntity)
	}
	return e.transform.World(), nil
}

// AttachMesh makes the entity draw mesh every frame. An entity may draw
// several meshes.
func (c *Context) AttachMesh(id metadata.EntityID, mesh metadata.MeshID) error {
	if !mesh.Valid() {
		return ErrInvalidMesh
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[id]
	if !ok {
		return fmt.Errorf("%d: %w", id, ErrUnknownEntity)
	}
	if !slices.Contains(e.meshes, mesh) {
		e.meshes = append(e.meshes, mesh)
	}
	return nil
}

func (c *Context) DetachMesh(id metadata.EntityID, mesh metadata.MeshID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[id]
	if !ok {
		return fmt.Errorf("%d: %w", id, ErrUnknownEntity)
	}
	e.meshes = slices.DeleteFunc(e.meshes, func(m metadata.MeshID) bool { return m == mesh })
	return nil
}

func (c *Context) Entities() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entities)
}

// snapshot builds this frame's draws in entity order.
func (c *Context) snapshot() ([]metadata.MeshRenderCommand, []renderer.MeshWorkerSystem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]metadata.EntityID, 0, len(c.entities))
	for id := range c.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	c.commands = c.commands[:0]
	for _, id := range ids {
		e := c.entities[id]
		if len(e.meshes) == 0 {
			continue
		}
		world := e.transform.World()
		for _, mesh := range e.meshes {
			c.commands = append(c.commands, metadata.MeshRenderCommand{GeoID: mesh, ID: id, Transform: world})
		}
	}
	commands := make([]metadata.MeshRenderCommand, len(c.commands))
	copy(commands, c.commands)
	return commands, slices.Clone(c.workers)
}

// Update splits this frame's draws across the job workers. Each job pushes
// its share into every attached worker under the job's producer identity.
// Draws that do not fit a full schedule are dropped and counted by the
// scheduler; any other push error fails the update.
func (c *Context) Update(ctx context.Context, jobs *systems.JobSystem) error {
	commands, workers := c.snapshot()
	if len(commands) == 0 || len(workers) == 0 {
		return nil
	}

	n := len(jobs.Threads())
	if n > len(commands) {
		n = len(commands)
	}
	batch := make([]systems.Job, n)
	for i := range batch {
		chunk := commands[i*len(commands)/n : (i+1)*len(commands)/n]
		batch[i] = func(threadID schedule.ThreadID) error {
			return push(threadID, chunk, workers)
		}
	}
	return jobs.RunBatch(ctx, batch)
}

func push(threadID schedule.ThreadID, chunk []metadata.MeshRenderCommand, workers []renderer.MeshWorkerSystem) error {
	dropped := 0
	for _, cmd := range chunk {
		for _, w := range workers {
			err := w.Push(threadID, cmd)
			switch {
			case err == nil:
			case errors.Is(err, core.ErrScheduleFull):
				dropped++
			default:
				return err
			}
		}
	}
	if dropped > 0 {
		core.LogWarn("producer %s dropped %d draws, schedule full", threadID, dropped)
	}
	return nil
}

// Shutdown forgets every entity and worker. Workers are owned by the renderer.
func (c *Context) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entities {
		_ = c.ids.Release(id)
	}
	clear(c.entities)
	c.workers = nil
	c.commands = nil
}
