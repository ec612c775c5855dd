package ballot

// SheetOf holds one value for each side of a physical sheet. The scanner does
// not guarantee which side is fed first, so Front is only the logical front
// once a sheet has been validated.
type SheetOf[T any] struct {
	Front T `json:"front"`
	Back  T `json:"back"`
}

// NewSheet builds a sheet from its two sides.
func NewSheet[T any](front, back T) SheetOf[T] {
	return SheetOf[T]{Front: front, Back: back}
}

// Swap returns the sheet with front and back exchanged.
func (s SheetOf[T]) Swap() SheetOf[T] {
	return SheetOf[T]{Front: s.Back, Back: s.Front}
}

// Pages returns the two sides in front, back order.
func (s SheetOf[T]) Pages() [2]T {
	return [2]T{s.Front, s.Back}
}

// MapSheet applies f to both sides of s.
func MapSheet[T, U any](s SheetOf[T], f func(T) U) SheetOf[U] {
	return SheetOf[U]{Front: f(s.Front), Back: f(s.Back)}
}

// SheetRecord is the final outcome for one physical sheet, handed to the
// workspace once the sheet has been accepted, rejected or returned.
type SheetRecord struct {
	ID       string
	Images   SheetOf[string]
	Pages    *SheetOf[PageInterpretationWithFiles]
	Accepted bool
	// Reason explains a rejection or return; empty for accepted sheets.
	Reason string
}
