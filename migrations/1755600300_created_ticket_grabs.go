package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("ticket_grabs")

		collection.Fields.Add(
			&core.URLField{
				Name:     "event_url",
				Required: true,
			},
			&core.TextField{
				Name: "grabbed_seats",
				Max:  50000,
			},
			&core.BoolField{
				Name: "is_seat",
			},
			&core.BoolField{
				Name: "is_category",
			},
			&core.TextField{
				Name: "hold_token",
			},
			&core.TextField{
				Name: "seat_details",
				Max:  100000,
			},
			&core.NumberField{
				Name:    "quantity",
				OnlyInt: true,
			},
			&core.TextField{
				Name:     "account_id",
				Required: true,
			},
			&core.URLField{
				Name: "payment_url",
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

		collection.AddIndex("idx_ticket_grabs_account", false, "account_id", "")
		collection.AddIndex("idx_ticket_grabs_event", false, "event_url", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("ticket_grabs")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
