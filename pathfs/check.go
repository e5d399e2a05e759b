package pathfs

import (
	"errors"
	"fmt"

	"github.com/keks/simplefs"
	"github.com/keks/simplefs/blkfile"
)

// Problem is an inconsistency found by Check.
type Problem struct {
	ID  simplefs.BlockID
	Msg string
}

func (p Problem) String() string {
	return fmt.Sprintf("block %d: %s", p.ID, p.Msg)
}

type checker struct {
	st       *blkfile.Store
	seen     map[simplefs.BlockID]bool
	problems []Problem
}

func (c *checker) report(id simplefs.BlockID, format string, args ...interface{}) {
	c.problems = append(c.problems, Problem{ID: id, Msg: fmt.Sprintf(format, args...)})
}

// Check walks the tree from the root and reports blocks whose id field
// disagrees with their slot, directory slots pointing at blocks that are not
// files or directories, blocks reachable more than once, chains too short for
// their file size, and allocated blocks that cannot be reached.
func (fs *FS) Check() ([]Problem, error) {
	fs.l.Lock()
	defer fs.l.Unlock()

	c := &checker{
		st:   fs.st,
		seen: make(map[simplefs.BlockID]bool),
	}

	root, err := c.st.ReadBlock(simplefs.RootID)
	if err != nil {
		return nil, err
	}
	if root.Kind() != simplefs.KindDirectory {
		c.report(simplefs.RootID, "root is a %v block", root.Kind())
		return c.problems, nil
	}
	if root.Name != blkfile.RootName {
		c.report(simplefs.RootID, "root is named %q", root.Name)
	}

	stack := []simplefs.BlockID{simplefs.RootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		blk, err := c.st.ReadBlock(id)
		if err != nil {
			return nil, err
		}
		stored, err := c.st.StoredID(id)
		if err != nil {
			return nil, err
		}
		if stored != id {
			c.report(id, "id field says %d", stored)
		}

		switch content := blk.Content.(type) {
		case *blkfile.Directory:
			for slot, child := range content.Children {
				if child == simplefs.NoBlock {
					continue
				}

				kid, err := c.st.ReadBlock(child)
				if errors.Is(err, simplefs.ErrCorrupt) {
					c.report(child, "unreadable record in slot %d of %d", slot, id)
					c.seen[child] = true
					continue
				} else if err != nil {
					return nil, err
				}

				switch kid.Kind() {
				case simplefs.KindDirectory, simplefs.KindFile:
				default:
					c.report(id, "slot %d points at %v block %d", slot, kid.Kind(), child)
					continue
				}

				if c.seen[child] {
					c.report(child, "reachable more than once (again from %d)", id)
					continue
				}
				c.seen[child] = true
				stack = append(stack, child)
			}
		case *blkfile.File:
			if err := c.chain(blk, content); err != nil {
				return nil, err
			}
		}
	}

	c.seen[simplefs.RootID] = true
	for i := 0; i < c.st.Count(); i++ {
		id := simplefs.BlockID(i)
		if c.seen[id] {
			continue
		}

		blk, err := c.st.ReadBlock(id)
		if errors.Is(err, simplefs.ErrCorrupt) {
			c.report(id, "unreadable record")
			continue
		} else if err != nil {
			return nil, err
		}
		if blk.Kind() != simplefs.KindFree {
			c.report(id, "%v block is not reachable", blk.Kind())
		}
	}

	return c.problems, nil
}

func (c *checker) chain(head blkfile.Block, f *blkfile.File) error {
	if f.Size < 0 {
		c.report(head.ID, "negative size %d", f.Size)
		return nil
	}

	need := 1
	if f.Size > 0 {
		need = (int(f.Size) + blkfile.PayloadSize - 1) / blkfile.PayloadSize
	}

	have := 1
	for next := head.Next; next != simplefs.NoBlock; have++ {
		if c.seen[next] {
			c.report(next, "reachable more than once (again from chain of %d)", head.ID)
			break
		}

		blk, err := c.st.ReadBlock(next)
		if errors.Is(err, simplefs.ErrCorrupt) {
			c.report(head.ID, "chain links to unreadable block %d", next)
			c.seen[next] = true
			break
		} else if err != nil {
			return err
		}
		if blk.Kind() != simplefs.KindData {
			c.report(head.ID, "chain links to %v block %d", blk.Kind(), next)
			break
		}
		stored, err := c.st.StoredID(next)
		if err != nil {
			return err
		}
		if stored != next {
			c.report(next, "id field says %d", stored)
		}

		c.seen[next] = true
		next = blk.Next
	}

	if have < need {
		c.report(head.ID, "chain holds %d blocks, size %d needs %d", have, f.Size, need)
	}

	return nil
}
