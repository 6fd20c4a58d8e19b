package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("crawler_settings")

		collection.Fields.Add(
			&core.URLField{
				Name: "event_url",
			},
			&core.NumberField{
				Name: "min_price",
			},
			&core.NumberField{
				Name: "max_price",
			},
			&core.NumberField{
				Name:    "max_tickets",
				OnlyInt: true,
			},
			&core.NumberField{
				Name:    "concurrency",
				OnlyInt: true,
			},
			&core.BoolField{
				Name: "use_proxies",
			},
			&core.BoolField{
				Name: "stopped",
			},
			&core.TextField{
				Name: "last_used_account_id",
			},
			&core.NumberField{
				Name:    "recheck_interval",
				OnlyInt: true,
			},
			&core.AutodateField{
				Name:     "created",
				OnCreate: true,
			},
			&core.AutodateField{
				Name:     "updated",
				OnCreate: true,
				OnUpdate: true,
			},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("crawler_settings")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
