package model

// BlockType is the Notion block type tag.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading1  BlockType = "heading_1"
	BlockHeading2  BlockType = "heading_2"
	BlockHeading3  BlockType = "heading_3"
	BlockBulleted  BlockType = "bulleted_list_item"
	BlockNumbered  BlockType = "numbered_list_item"
	BlockToDo      BlockType = "to_do"
	BlockToggle    BlockType = "toggle"
	BlockQuote     BlockType = "quote"
	BlockCallout   BlockType = "callout"
	BlockCode      BlockType = "code"
	BlockDivider   BlockType = "divider"
	BlockTable     BlockType = "table"
	BlockTableRow  BlockType = "table_row"
	BlockChildPage BlockType = "child_page"
)

// ContentBlock is one node of a page's block tree.
type ContentBlock struct {
	ID       string
	Type     BlockType
	Text     string
	Language string   // code blocks
	Checked  *bool    // to-do blocks
	Cells    []string // table rows
	Children []*ContentBlock
}

// Document is a fetched page: properties plus its block tree.
type Document struct {
	ID         string
	URL        string
	Title      string
	Properties []Property
	Blocks     []*ContentBlock
}

// Walk visits blocks depth first in document order.
func (d *Document) Walk(fn func(b *ContentBlock, depth int)) {
	var walk func(blocks []*ContentBlock, depth int)
	walk = func(blocks []*ContentBlock, depth int) {
		for _, b := range blocks {
			fn(b, depth)
			walk(b.Children, depth+1)
		}
	}
	walk(d.Blocks, 0)
}

// Property returns the property with the given key.
func (d *Document) Property(key string) (PropertyValue, bool) {
	for _, p := range d.Properties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return PropertyValue{}, false
}
