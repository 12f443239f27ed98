package seedfile

// Entry is one bookmark row in the seed YAML.
type Entry struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

// OwnerBlock groups the seed bookmarks of one user.
type OwnerBlock struct {
	Owner     string  `yaml:"owner"`
	Bookmarks []Entry `yaml:"bookmarks"`
}

// Config is the root structure of the seed file: a list of owner blocks.
type Config []OwnerBlock
