package models

// Napp is a registered package record. Its composite key is (author, name)
// where author is a User.Username. List-typed fields keep insertion order
// and never hold duplicates.
type Napp struct {
	Author          string   `json:"author" validate:"required"`
	Name            string   `json:"name" validate:"required"`
	Version         string   `json:"version" validate:"required"`
	Description     string   `json:"description" validate:"required"`
	LongDescription string   `json:"long_description"`
	License         string   `json:"license" validate:"required"`
	Git             string   `json:"git" validate:"required"`
	Branch          string   `json:"branch" validate:"required"`
	Readme          string   `json:"readme"`
	OFVersion       []string `json:"ofversion" validate:"required,min=1,unique"`
	Tags            []string `json:"tags" validate:"required,min=1,unique"`
	Dependencies    []string `json:"dependencies" validate:"unique"`
}

func NappKey(author, name string) string {
	return "napp:" + author + "/" + name
}

func (n *Napp) Key() string {
	return NappKey(n.Author, n.Name)
}

func (n *Napp) Fields() map[string]string {
	return map[string]string{
		"author":           n.Author,
		"name":             n.Name,
		"version":          n.Version,
		"description":      n.Description,
		"long_description": n.LongDescription,
		"license":          n.License,
		"git":              n.Git,
		"branch":           n.Branch,
		"readme":           n.Readme,
		"ofversion":        EncodeStringList(n.OFVersion),
		"tags":             EncodeStringList(n.Tags),
		"dependencies":     EncodeStringList(n.Dependencies),
	}
}

func NappFromFields(fields map[string]string) (*Napp, error) {
	ofversion, err := DecodeStringList(fields["ofversion"])
	if err != nil {
		return nil, err
	}
	tags, err := DecodeStringList(fields["tags"])
	if err != nil {
		return nil, err
	}
	dependencies, err := DecodeStringList(fields["dependencies"])
	if err != nil {
		return nil, err
	}

	return &Napp{
		Author:          fields["author"],
		Name:            fields["name"],
		Version:         fields["version"],
		Description:     fields["description"],
		LongDescription: fields["long_description"],
		License:         fields["license"],
		Git:             fields["git"],
		Branch:          fields["branch"],
		Readme:          fields["readme"],
		OFVersion:       ofversion,
		Tags:            tags,
		Dependencies:    dependencies,
	}, nil
}
