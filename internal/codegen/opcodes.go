package codegen

// opcodeForm names the four instruction forms internal/zmachine's
// decoder recognizes (internal/zmachine/opcode.go). The constants use
// their own numbering and are never written into the image; only the
// opcode numbers within each family (opcodeDef below) match the decoder.
type opcodeForm int

const (
	formShort opcodeForm = iota
	formLong
	formVar
	formExt
)

// opcodeDef names one mnemonic's base opcode number within its family.
// The base number matches the `case N:` values in
// internal/zmachine/zmachine.go's dispatcher exactly, so a byte this
// package emits decodes to the same mnemonic the interpreter dispatches
// on.
type opcodeDef struct {
	mnemonic  string
	zeroOp    int // base number in the 0OP family (-1 if not valid here)
	oneOp     int // base number in the 1OP family
	twoOp     int // base number in the 2OP family
	varOp     int // base number in the VAR family
	alwaysVar bool // forced VAR form regardless of operand count, per §4.J
	store     bool // writes a result to a store-variable byte
	branches  bool // followed by a branch field
}

var opcodeTable = map[string]opcodeDef{
	"rtrue":          {zeroOp: 0, oneOp: -1, twoOp: -1, varOp: -1},
	"rfalse":         {zeroOp: 1, oneOp: -1, twoOp: -1, varOp: -1},
	"print":          {zeroOp: 2, oneOp: -1, twoOp: -1, varOp: -1},
	"print_ret":      {zeroOp: 3, oneOp: -1, twoOp: -1, varOp: -1},
	"ret_popped":     {zeroOp: 8, oneOp: -1, twoOp: -1, varOp: -1},
	"quit":           {zeroOp: 10, oneOp: -1, twoOp: -1, varOp: -1},
	"new_line":       {zeroOp: 11, oneOp: -1, twoOp: -1, varOp: -1},
	"verify":         {zeroOp: 13, oneOp: -1, twoOp: -1, varOp: -1, branches: true},

	"jz":           {oneOp: 0, zeroOp: -1, twoOp: -1, varOp: -1, branches: true},
	"get_sibling":  {oneOp: 1, zeroOp: -1, twoOp: -1, varOp: -1, store: true, branches: true},
	"get_child":    {oneOp: 2, zeroOp: -1, twoOp: -1, varOp: -1, store: true, branches: true},
	"get_parent":   {oneOp: 3, zeroOp: -1, twoOp: -1, varOp: -1, store: true},
	"get_prop_len": {oneOp: 4, zeroOp: -1, twoOp: -1, varOp: -1, store: true},
	"inc":          {oneOp: 5, zeroOp: -1, twoOp: -1, varOp: -1},
	"dec":          {oneOp: 6, zeroOp: -1, twoOp: -1, varOp: -1},
	"print_addr":   {oneOp: 7, zeroOp: -1, twoOp: -1, varOp: -1},
	"remove_obj":   {oneOp: 9, zeroOp: -1, twoOp: -1, varOp: -1},
	"print_obj":    {oneOp: 10, zeroOp: -1, twoOp: -1, varOp: -1},
	"ret":          {oneOp: 11, zeroOp: -1, twoOp: -1, varOp: -1},
	"jump":         {oneOp: 12, zeroOp: -1, twoOp: -1, varOp: -1},
	"print_paddr":  {oneOp: 13, zeroOp: -1, twoOp: -1, varOp: -1},
	"load":         {oneOp: 14, zeroOp: -1, twoOp: -1, varOp: -1, store: true},
	"not":          {oneOp: 15, zeroOp: -1, twoOp: -1, varOp: 24, store: true},

	"je":         {twoOp: 1, zeroOp: -1, oneOp: -1, varOp: -1, branches: true},
	"jl":         {twoOp: 2, zeroOp: -1, oneOp: -1, varOp: -1, branches: true},
	"jg":         {twoOp: 3, zeroOp: -1, oneOp: -1, varOp: -1, branches: true},
	"dec_chk":    {twoOp: 4, zeroOp: -1, oneOp: -1, varOp: -1, branches: true},
	"inc_chk":    {twoOp: 5, zeroOp: -1, oneOp: -1, varOp: -1, branches: true},
	"jin":        {twoOp: 6, zeroOp: -1, oneOp: -1, varOp: -1, branches: true},
	"test":       {twoOp: 7, zeroOp: -1, oneOp: -1, varOp: -1, branches: true},
	"or":         {twoOp: 8, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"and":        {twoOp: 9, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"test_attr":  {twoOp: 10, zeroOp: -1, oneOp: -1, varOp: -1, branches: true},
	"set_attr":   {twoOp: 11, zeroOp: -1, oneOp: -1, varOp: -1},
	"clear_attr": {twoOp: 12, zeroOp: -1, oneOp: -1, varOp: -1},
	"store":      {twoOp: 13, zeroOp: -1, oneOp: -1, varOp: -1},
	"insert_obj": {twoOp: 14, zeroOp: -1, oneOp: -1, varOp: -1},
	"loadw":      {twoOp: 15, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"loadb":      {twoOp: 16, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"get_prop":   {twoOp: 17, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"get_prop_addr": {twoOp: 18, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"get_next_prop": {twoOp: 19, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"add": {twoOp: 20, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"sub": {twoOp: 21, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"mul": {twoOp: 22, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"div": {twoOp: 23, zeroOp: -1, oneOp: -1, varOp: -1, store: true},
	"mod": {twoOp: 24, zeroOp: -1, oneOp: -1, varOp: -1, store: true},

	"call":         {varOp: 0, zeroOp: -1, oneOp: -1, twoOp: 25, alwaysVar: true, store: true},
	"storew":       {varOp: 1, zeroOp: -1, oneOp: -1, twoOp: -1, alwaysVar: true},
	"storeb":       {varOp: 2, zeroOp: -1, oneOp: -1, twoOp: -1},
	"put_prop":     {varOp: 3, zeroOp: -1, oneOp: -1, twoOp: -1, alwaysVar: true},
	"sread":        {varOp: 4, zeroOp: -1, oneOp: -1, twoOp: -1, alwaysVar: true},
	"print_char":   {varOp: 5, zeroOp: -1, oneOp: -1, twoOp: -1, alwaysVar: true},
	"print_num":    {varOp: 6, zeroOp: -1, oneOp: -1, twoOp: -1, alwaysVar: true},
	"random":       {varOp: 7, zeroOp: -1, oneOp: -1, twoOp: -1, alwaysVar: true, store: true},
	"push":         {varOp: 8, zeroOp: -1, oneOp: -1, twoOp: -1},
	"pull":         {varOp: 9, zeroOp: -1, oneOp: -1, twoOp: -1},
	"split_window": {varOp: 10, zeroOp: -1, oneOp: -1, twoOp: -1},
	"set_window":   {varOp: 11, zeroOp: -1, oneOp: -1, twoOp: -1},
	"erase_window": {varOp: 13, zeroOp: -1, oneOp: -1, twoOp: -1},
	"set_cursor":   {varOp: 15, zeroOp: -1, oneOp: -1, twoOp: -1},
	"set_text_style": {varOp: 17, zeroOp: -1, oneOp: -1, twoOp: -1},
	"buffer_mode":  {varOp: 18, zeroOp: -1, oneOp: -1, twoOp: -1},
	"output_stream": {varOp: 19, zeroOp: -1, oneOp: -1, twoOp: -1},
	"read_char":    {varOp: 22, zeroOp: -1, oneOp: -1, twoOp: -1, store: true},
	"scan_table":   {varOp: 23, zeroOp: -1, oneOp: -1, twoOp: -1, store: true, branches: true},
	"not_var":      {varOp: 24, zeroOp: -1, oneOp: -1, twoOp: -1, store: true},
	"call_vn":      {varOp: 25, zeroOp: -1, oneOp: -1, twoOp: -1},
	"call_vn2":     {varOp: 26, zeroOp: -1, oneOp: -1, twoOp: -1},
	"tokenise":     {varOp: 27, zeroOp: -1, oneOp: -1, twoOp: -1},
	"copy_table":   {varOp: 29, zeroOp: -1, oneOp: -1, twoOp: -1},
	"print_table":  {varOp: 30, zeroOp: -1, oneOp: -1, twoOp: -1},
}
