package ir

import "fmt"

// Check verifies the structural invariants of a lowered body: every
// reachable block is terminated, every edge names an existing block and
// passes exactly one argument per parameter, and every value used is
// defined.
func (f *FunctionBody) Check() error {
	if int(f.Entry) >= len(f.Blocks) {
		return fmt.Errorf("entry block%d does not exist", f.Entry)
	}
	nvals := Value(len(f.Values))
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		if blk.Term == nil {
			if Block(i) == f.Entry || len(blk.Preds) > 0 {
				return fmt.Errorf("block%d has no terminator", i)
			}
			continue
		}
		for _, v := range blk.Insts {
			if v >= nvals {
				return fmt.Errorf("block%d: undefined value v%d", i, v)
			}
			for _, a := range f.Values[v].Args {
				if a >= nvals {
					return fmt.Errorf("block%d: v%d uses undefined value v%d", i, v, a)
				}
			}
		}
		for _, succ := range blk.Term.Successors() {
			if int(succ.Block) >= len(f.Blocks) {
				return fmt.Errorf("block%d: branch to missing block%d", i, succ.Block)
			}
			want := len(f.Blocks[succ.Block].Params)
			if len(succ.Args) != want {
				return fmt.Errorf("block%d: branch to block%d passes %d args, want %d", i, succ.Block, len(succ.Args), want)
			}
			for _, a := range succ.Args {
				if a >= nvals {
					return fmt.Errorf("block%d: branch argument v%d undefined", i, a)
				}
			}
		}
		if ret, ok := blk.Term.(*Return); ok && len(ret.Values) != len(f.Results) {
			return fmt.Errorf("block%d: returns %d values, want %d", i, len(ret.Values), len(f.Results))
		}
	}
	return nil
}
