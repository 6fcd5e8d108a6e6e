package mm

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/cchanging/asterinas/mm/frame"
)

// DumpStatsJSON serializes a fresh Stats snapshot as one JSON object.
func (s *System) DumpStatsJSON() ([]byte, error) {
	return s.Stats().AppendJSON()
}

// AppendJSON renders the snapshot with a streaming writer, so a dump
// allocates no intermediate tree. Free-list and class breakdowns are
// keyed by order and object size.
func (st Stats) AppendJSON() ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()

	fr := obj.Name("frames").Object()
	fr.Name("total").Int(int(st.Frame.TotalFrames))
	fr.Name("free").Int(int(st.Frame.FreeFrames))
	fr.Name("pooled").Int(st.PooledFrames)
	fr.Name("alloc_calls").Int(int(st.Frame.AllocCalls))
	fr.Name("free_calls").Int(int(st.Frame.FreeCalls))
	fr.Name("splits").Int(int(st.Frame.Splits))
	fr.Name("merges").Int(int(st.Frame.Merges))
	fl := fr.Name("free_blocks").Object()
	for order := 0; order <= frame.MaxOrder; order++ {
		fl.Name("order_" + strconv.Itoa(order)).Int(st.Frame.FreeBlocks[order])
	}
	fl.End()
	fr.End()

	hp := obj.Name("heap").Object()
	hp.Name("slab_frames").Int(int(st.Heap.SlabFrames))
	hp.Name("oversize_frames").Int(int(st.Heap.OversizeFrames))
	hp.Name("oversize_blocks").Int(int(st.Heap.OversizeBlocks))
	hp.Name("cached_objects").Int(st.Heap.CachedObjects)
	cl := hp.Name("classes").Object()
	for _, cs := range st.Heap.Classes {
		one := cl.Name(strconv.Itoa(cs.Size)).Object()
		one.Name("slabs").Int(cs.Slabs)
		one.Name("partial").Int(cs.PartialSlabs)
		one.Name("empty").Int(cs.EmptySlabs)
		one.Name("central_objects").Int(cs.CentralObjects)
		one.Name("carves").Int(int(cs.Carves))
		one.Name("reclaims").Int(int(cs.Reclaims))
		one.End()
	}
	cl.End()
	hp.End()

	obj.End()
	return w.Bytes(), w.Error()
}
