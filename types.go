package huntingcorner

import "encoding/json"

// ============================================================================
// Auth Types
// ============================================================================

// User is the authenticated account as returned by /me and the auth endpoints.
type User struct {
	ID       json.Number `json:"id"`
	Name     string      `json:"name"`
	Email    string      `json:"email,omitempty"`
	Avatar   string      `json:"avatar,omitempty"`
	Username string      `json:"username,omitempty"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterOptions struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation,omitempty"`
	Phone                string `json:"phone,omitempty"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ============================================================================
// Feed Types
// ============================================================================

type PageMeta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page,omitempty"`
	Total       int `json:"total,omitempty"`
}

// Page is a paginated listing. FromCache is set when the backend could not
// be reached and the page came from the response cache.
type Page[T any] struct {
	Data      []T      `json:"data"`
	Meta      PageMeta `json:"meta"`
	FromCache bool     `json:"-"`
}

// HasMore reports whether pages follow this one.
func (p *Page[T]) HasMore() bool {
	return p.Meta.CurrentPage < p.Meta.LastPage
}

type Post struct {
	ID            int64    `json:"id"`
	Content       string   `json:"content"`
	Images        []string `json:"images,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	User          *User    `json:"user,omitempty"`
	LikesCount    int      `json:"likes_count"`
	CommentsCount int      `json:"comments_count"`
	Liked         bool     `json:"liked"`
	CreatedAt     string   `json:"created_at"`
}

type CreatePostOptions struct {
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type Comment struct {
	ID        int64  `json:"id"`
	PostID    int64  `json:"post_id"`
	Content   string `json:"content"`
	User      *User  `json:"user,omitempty"`
	CreatedAt string `json:"created_at"`
}

type Ad struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency,omitempty"`
	Category    string   `json:"category,omitempty"`
	Location    string   `json:"location,omitempty"`
	Region      string   `json:"region,omitempty"`
	Images      []string `json:"images,omitempty"`
	Favorited   bool     `json:"favorited"`
	User        *User    `json:"user,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

type CreateAdOptions struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency,omitempty"`
	Category    string   `json:"category,omitempty"`
	Location    string   `json:"location,omitempty"`
	Region      string   `json:"region,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// AdFilter narrows an ad listing. Zero fields are not sent.
type AdFilter struct {
	Category string
	Region   string
	PriceMin float64
	PriceMax float64
	Search   string
}

type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	ReadAt    *string        `json:"read_at"`
	CreatedAt string         `json:"created_at"`
}

// Tag is one hashtag suggestion. The backend sends bare strings or objects.
type Tag struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

func (t *Tag) UnmarshalJSON(b []byte) error {
	var name string
	if json.Unmarshal(b, &name) == nil {
		*t = Tag{Name: name}
		return nil
	}
	type plain Tag
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = Tag(p)
	return nil
}

// ============================================================================
// Realtime Event Payloads
// ============================================================================

type PostCreatedEvent struct {
	Post *Post `json:"post"`
}

type AdCreatedEvent struct {
	Ad *Ad `json:"ad"`
}

type NotificationCreatedEvent struct {
	Notification *Notification `json:"notification"`
}

// ============================================================================
// Upload Types
// ============================================================================

type UploadSignature struct {
	UploadURL string            `json:"upload_url"`
	PublicURL string            `json:"public_url"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type UploadOptions struct {
	FileName   string
	MimeType   string
	OnProgress func(uploaded, total int64)

	// KeepOriginal skips image compression.
	KeepOriginal bool
}
