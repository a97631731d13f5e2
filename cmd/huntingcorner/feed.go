package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	huntingcorner "github.com/permalinkserbia/hunting-corner-mobile-app"
	"github.com/spf13/cobra"
)

var (
	feedJSON bool

	postsPage int

	adsPage     int
	adsCategory string
	adsRegion   string
	adsSearch   string

	postContent string
	postImages  []string
	postTags    []string
)

func init() {
	postsCmd.Flags().IntVar(&postsPage, "page", 1, "Page number")
	postsCmd.Flags().BoolVar(&feedJSON, "json", false, "Output raw JSON")
	postsCmd.AddCommand(postsCreateCmd)
	postsCreateCmd.Flags().StringVar(&postContent, "content", "", "Post text")
	postsCreateCmd.Flags().StringSliceVar(&postImages, "image", nil, "Local image to upload and attach (repeatable)")
	postsCreateCmd.Flags().StringSliceVar(&postTags, "tag", nil, "Hashtag to attach (repeatable)")
	_ = postsCreateCmd.MarkFlagRequired("content")
	postsCmd.AddCommand(postsTagsCmd)
	postsTagsCmd.Flags().BoolVar(&feedJSON, "json", false, "Output raw JSON")

	adsCmd.Flags().IntVar(&adsPage, "page", 1, "Page number")
	adsCmd.Flags().StringVar(&adsCategory, "category", "", "Filter by category")
	adsCmd.Flags().StringVar(&adsRegion, "region", "", "Filter by region")
	adsCmd.Flags().StringVar(&adsSearch, "search", "", "Free-text search")
	adsCmd.Flags().BoolVar(&feedJSON, "json", false, "Output raw JSON")

	notificationsCmd.Flags().BoolVar(&feedJSON, "json", false, "Output raw JSON")
	notificationsCmd.AddCommand(notificationsReadAllCmd)

	rootCmd.AddCommand(postsCmd, adsCmd, notificationsCmd)
}

// ============================================================================
// posts
// ============================================================================

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "List the timeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		page, err := client.Posts().List(ctx, postsPage)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if feedJSON {
			return printJSON(page.Data)
		}
		if page.FromCache {
			fmt.Println("(offline, showing cached timeline)")
		}
		for _, p := range page.Data {
			author := "?"
			if p.User != nil {
				author = p.User.Name
			}
			fmt.Printf("#%d  %s  [%d likes, %d comments]\n", p.ID, author, p.LikesCount, p.CommentsCount)
			fmt.Printf("    %s\n", oneLine(p.Content))
		}
		fmt.Printf("Page %d of %d\n", page.Meta.CurrentPage, page.Meta.LastPage)
		return nil
	},
}

var postsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Publish a post, queueing it when offline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		client, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		var images []string
		if len(postImages) > 0 {
			images, err = client.Uploads().UploadFiles(ctx, postImages)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
		}

		post, err := client.Posts().Create(ctx, huntingcorner.CreatePostOptions{Content: postContent, Images: images, Tags: postTags})
		if errors.Is(err, huntingcorner.ErrQueued) {
			fmt.Println("Backend unreachable; post queued. Run 'huntingcorner queue drain' later.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Posted #%d\n", post.ID)
		return nil
	},
}

var postsTagsCmd = &cobra.Command{
	Use:   "tags <query>",
	Short: "Suggest hashtags for a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		tags, err := client.Tags().Suggest(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if feedJSON {
			return printJSON(tags)
		}
		for _, t := range tags {
			if t.Count > 0 {
				fmt.Printf("#%s  (%d)\n", t.Name, t.Count)
			} else {
				fmt.Printf("#%s\n", t.Name)
			}
		}
		return nil
	},
}

// ============================================================================
// ads
// ============================================================================

var adsCmd = &cobra.Command{
	Use:   "ads",
	Short: "List classified ads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		page, err := client.Ads().List(ctx, adsPage, huntingcorner.AdFilter{
			Category: adsCategory,
			Region:   adsRegion,
			Search:   adsSearch,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if feedJSON {
			return printJSON(page.Data)
		}
		if page.FromCache {
			fmt.Println("(offline, showing cached ads)")
		}
		for _, a := range page.Data {
			fmt.Printf("#%d  %-40s %10.2f %s  %s\n", a.ID, a.Title, a.Price, a.Currency, a.Category)
		}
		fmt.Printf("Page %d of %d\n", page.Meta.CurrentPage, page.Meta.LastPage)
		return nil
	},
}

// ============================================================================
// notifications
// ============================================================================

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		list, err := client.Notifications().List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if feedJSON {
			return printJSON(list)
		}
		fmt.Printf("%d unread\n", huntingcorner.UnreadCount(list))
		for _, n := range list {
			mark := " "
			if n.ReadAt == nil {
				mark = "*"
			}
			fmt.Printf("%s %s  %-24s %s\n", mark, n.CreatedAt, n.Type, n.ID)
		}
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		err = client.Notifications().MarkAllRead(ctx)
		if errors.Is(err, huntingcorner.ErrQueued) {
			fmt.Println("Backend unreachable; request queued.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println("All notifications marked as read.")
		return nil
	},
}

// ============================================================================
// Output helpers
// ============================================================================

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 100 {
		return s[:97] + "..."
	}
	return s
}
